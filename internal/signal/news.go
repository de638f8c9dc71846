package signal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

// Feed is one RSS feed the news source polls.
type Feed struct {
	Name string
	URL  string
}

// DefaultFeeds lists Australian-leaning market news feeds.
var DefaultFeeds = []Feed{
	{Name: "ABC Business", URL: "https://www.abc.net.au/news/feed/51892/rss.xml"},
	{Name: "AFR Markets", URL: "https://www.afr.com/rss/markets"},
	{Name: "Investing.com Australia", URL: "https://au.investing.com/rss/news.rss"},
	{Name: "MarketWatch Pulse", URL: "https://feeds.content.dowjones.io/public/rss/mw_marketpulse"},
}

// Company names as they appear in headlines, keyed by base symbol. The
// big ASX listings plus the US majors the router also carries.
var companyNames = map[string][]string{
	"BHP":   {"bhp group"},
	"CBA":   {"commonwealth bank", "commbank"},
	"NAB":   {"national australia bank"},
	"WBC":   {"westpac"},
	"ANZ":   {"anz group"},
	"WES":   {"wesfarmers"},
	"WOW":   {"woolworths"},
	"TLS":   {"telstra"},
	"FMG":   {"fortescue"},
	"RIO":   {"rio tinto"},
	"CSL":   {"csl"},
	"MQG":   {"macquarie"},
	"WDS":   {"woodside"},
	"QAN":   {"qantas"},
	"COL":   {"coles"},
	"AAPL":  {"apple"},
	"MSFT":  {"microsoft"},
	"GOOGL": {"google", "alphabet"},
	"AMZN":  {"amazon"},
	"TSLA":  {"tesla"},
	"NVDA":  {"nvidia"},
	"META":  {"meta platforms", "facebook"},
}

// seenTTL bounds the dedupe set; feeds rarely keep items visible longer.
const seenTTL = 48 * time.Hour

// NewsConfig tunes the news sentiment source.
type NewsConfig struct {
	// Feeds to poll. Empty means DefaultFeeds.
	Feeds []Feed
	// Symbols to watch, as routed (BHP.AX, AAPL, ...).
	Symbols []string
	// ExtraKeywords adds per-symbol match terms beyond the built-in
	// company names, keyed by the symbol as given in Symbols.
	ExtraKeywords map[string][]string
	// PollInterval between feed sweeps. Default 10m.
	PollInterval time.Duration
	// MinConfidence suppresses aggregates below it. Default 0.25.
	MinConfidence float64
	// RequestsPerSec paces feed fetches. Default 2.
	RequestsPerSec float64
}

// NewsSource polls RSS feeds, scores headlines against the keyword model
// and emits one buy or sell signal per watched symbol and sweep when the
// aggregate clears the neutral band.
type NewsSource struct {
	cfg     NewsConfig
	parser  *gofeed.Parser
	limiter *rate.Limiter
	log     zerolog.Logger
	seen    map[string]time.Time // article URL -> first seen; only Run touches it
}

// NewNews builds the source, filling config defaults.
func NewNews(cfg NewsConfig, log zerolog.Logger) *NewsSource {
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = DefaultFeeds
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Minute
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.25
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	return &NewsSource{
		cfg:     cfg,
		parser:  gofeed.NewParser(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		log:     log.With().Str("component", "news").Logger(),
		seen:    make(map[string]time.Time),
	}
}

// Name returns the source name signals are stamped with.
func (n *NewsSource) Name() string { return "news_sentiment" }

// Run sweeps the feeds immediately, then on every poll interval.
func (n *NewsSource) Run(ctx context.Context, out chan<- models.TradingSignal) error {
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		articles := n.fetchAll(ctx)
		for _, sig := range n.scan(articles, time.Now().UTC()) {
			select {
			case out <- sig:
			case <-ctx.Done():
				return nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Fetching
// ════════════════════════════════════════════════════════════════════

// fetchAll gathers articles from every feed, newest first. A failing feed
// is logged and skipped; one dead feed must not silence the rest.
func (n *NewsSource) fetchAll(ctx context.Context) []Article {
	var all []Article
	for _, feed := range n.cfg.Feeds {
		articles, err := n.fetchFeed(ctx, feed)
		if err != nil {
			n.log.Warn().Err(err).Str("feed", feed.Name).Msg("feed fetch failed")
			continue
		}
		all = append(all, articles...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].PublishedAt.After(all[j].PublishedAt)
	})
	return all
}

func (n *NewsSource) fetchFeed(ctx context.Context, f Feed) ([]Article, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	feed, err := n.parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", f.Name, err)
	}
	return articlesFrom(feed, f.Name), nil
}

// articlesFrom converts parsed feed items, stripping HTML from summaries.
func articlesFrom(feed *gofeed.Feed, sourceName string) []Article {
	articles := make([]Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := Article{
			Title:   item.Title,
			URL:     item.Link,
			Source:  sourceName,
			Summary: stripHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		}
		articles = append(articles, a)
	}
	return articles
}

// stripHTML drops markup from feed descriptions.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

// ════════════════════════════════════════════════════════════════════
// Scoring sweep
// ════════════════════════════════════════════════════════════════════

// scan scores the articles not seen on earlier sweeps and returns the
// signals whose aggregates clear the thresholds. An article mentioning
// two watched symbols counts for both.
func (n *NewsSource) scan(articles []Article, now time.Time) []models.TradingSignal {
	for url, at := range n.seen {
		if now.Sub(at) > seenTTL {
			delete(n.seen, url)
		}
	}

	var fresh []Article
	for _, a := range articles {
		if _, ok := n.seen[a.URL]; ok {
			continue
		}
		fresh = append(fresh, a)
	}

	var signals []models.TradingSignal
	for _, symbol := range n.cfg.Symbols {
		keywords := n.keywordsFor(symbol)
		var scores []Score
		for _, a := range fresh {
			if matchesAny(a.Title+" "+a.Summary, keywords) {
				scores = append(scores, ScoreArticle(a))
			}
		}
		if len(scores) == 0 {
			continue
		}
		agg := AggregateScores(symbol, scores, now)
		sig, ok := n.signalFrom(agg)
		if !ok {
			continue
		}
		n.log.Info().
			Str("symbol", symbol).
			Str("label", agg.Label).
			Float64("score", agg.Score).
			Int("articles", agg.Articles).
			Msg("news sentiment signal")
		signals = append(signals, sig)
	}

	for _, a := range fresh {
		if a.URL != "" {
			n.seen[a.URL] = now
		}
	}
	return signals
}

// signalFrom maps an aggregate to a signal. Scores inside the neutral
// band (-0.1, +0.1] or below the confidence floor produce nothing.
func (n *NewsSource) signalFrom(agg Aggregate) (models.TradingSignal, bool) {
	var sigType models.SignalType
	switch {
	case agg.Score > 0.1:
		sigType = models.SignalBuy
	case agg.Score < -0.1:
		sigType = models.SignalSell
	default:
		return models.TradingSignal{}, false
	}
	if agg.Confidence < n.cfg.MinConfidence {
		return models.TradingSignal{}, false
	}
	return models.TradingSignal{
		ID:         uuid.NewString(),
		Symbol:     agg.Symbol,
		Type:       sigType,
		Strength:   math.Abs(agg.Score),
		Confidence: agg.Confidence,
		Timestamp:  agg.At,
		Source:     n.Name(),
		Metadata: map[string]string{
			"rationale": fmt.Sprintf("%s sentiment across %d articles", agg.Label, agg.Articles),
			"label":     agg.Label,
			"articles":  strconv.Itoa(agg.Articles),
		},
	}, true
}

// keywordsFor returns the lowercase terms that mark an article as being
// about the symbol: the base symbol itself, the known company names and
// any configured extras.
func (n *NewsSource) keywordsFor(symbol string) []string {
	base := utils.BaseSymbol(symbol)
	keywords := []string{strings.ToLower(base)}
	keywords = append(keywords, companyNames[base]...)
	for _, kw := range n.cfg.ExtraKeywords[symbol] {
		keywords = append(keywords, strings.ToLower(kw))
	}
	return keywords
}

// matchesAny reports whether text contains any keyword, case-insensitively.
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
