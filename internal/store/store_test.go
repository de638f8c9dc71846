package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seaquant/tradeflow/internal/ledger"
	"github.com/seaquant/tradeflow/pkg/logger"
	"github.com/seaquant/tradeflow/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, email string) int64 {
	t.Helper()
	id, err := s.Users.Create(context.Background(), &models.User{Email: email})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return id
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ════════════════════════════════════════════════════════════════════
// Users
// ════════════════════════════════════════════════════════════════════

func TestUserRepo_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := &models.User{Email: "  Jo@Example.COM ", Name: "Jo"}
	id, err := s.Users.Create(ctx, u)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == 0 || u.ID != id {
		t.Errorf("id not assigned: got %d, struct %d", id, u.ID)
	}
	if u.CreatedAt.IsZero() {
		t.Errorf("created_at not stamped")
	}
	if u.TaxJurisdiction != "AU" {
		t.Errorf("jurisdiction default: got %q", u.TaxJurisdiction)
	}

	got, err := s.Users.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Email != "jo@example.com" {
		t.Errorf("email not normalized: %q", got.Email)
	}
	if got.Name != "Jo" {
		t.Errorf("name: got %q", got.Name)
	}

	byEmail, err := s.Users.GetByEmail(ctx, "JO@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if byEmail.ID != id {
		t.Errorf("GetByEmail returned user %d, want %d", byEmail.ID, id)
	}
}

func TestUserRepo_Errors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Users.Create(ctx, &models.User{Email: "  "}); err == nil {
		t.Errorf("empty email should be rejected")
	}

	createTestUser(t, s, "dup@example.com")
	if _, err := s.Users.Create(ctx, &models.User{Email: "dup@example.com"}); err == nil {
		t.Errorf("duplicate email should be rejected")
	}

	if _, err := s.Users.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user: expected ErrNotFound, got %v", err)
	}
	if err := s.Users.Delete(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting missing user: expected ErrNotFound, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Portfolios
// ════════════════════════════════════════════════════════════════════

func testPortfolio(userID int64, name string) *models.PortfolioRecord {
	return &models.PortfolioRecord{
		UserID:         userID,
		Name:           name,
		Type:           models.PortfolioPaper,
		InitialCapital: models.MustDecimal("100000"),
		Currency:       "aud",
		IsActive:       true,
	}
}

func TestPortfolioRepo_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "p@example.com")

	p := testPortfolio(userID, "core")
	id, err := s.Portfolios.Create(ctx, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Portfolios.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "core" || got.Type != models.PortfolioPaper {
		t.Errorf("round-trip: got %q %s", got.Name, got.Type)
	}
	if got.Currency != "AUD" {
		t.Errorf("currency not normalized: %q", got.Currency)
	}
	if !got.InitialCapital.Equal(models.MustDecimal("100000")) {
		t.Errorf("initial capital: got %s", got.InitialCapital)
	}
	// Unset current value defaults to the initial capital.
	if !got.CurrentValue.Equal(models.MustDecimal("100000")) {
		t.Errorf("current value: got %s", got.CurrentValue)
	}
	if !got.IsActive {
		t.Errorf("active flag lost")
	}
}

func TestPortfolioRepo_UniquePerUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	if _, err := s.Portfolios.Create(ctx, testPortfolio(alice, "core")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.Portfolios.Create(ctx, testPortfolio(alice, "core"))
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate name for same user: expected ErrDuplicateName, got %v", err)
	}
	// The same name under another user is fine.
	if _, err := s.Portfolios.Create(ctx, testPortfolio(bob, "core")); err != nil {
		t.Errorf("same name, different user: %v", err)
	}
}

func TestPortfolioRepo_UpdateAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "u@example.com")

	first, err := s.Portfolios.Create(ctx, testPortfolio(userID, "one"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Portfolios.Create(ctx, testPortfolio(userID, "two")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Portfolios.UpdateValue(ctx, first, models.MustDecimal("110500.25")); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if err := s.Portfolios.SetActive(ctx, first, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	got, err := s.Portfolios.Get(ctx, first)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CurrentValue.Equal(models.MustDecimal("110500.25")) {
		t.Errorf("current value: got %s", got.CurrentValue)
	}
	if got.IsActive {
		t.Errorf("active flag should be cleared")
	}

	list, err := s.Portfolios.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 portfolios, got %d", len(list))
	}

	if err := s.Portfolios.UpdateValue(ctx, 9999, models.MustDecimal("1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: expected ErrNotFound, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Settings
// ════════════════════════════════════════════════════════════════════

func TestSettingsRepo_UpsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "s@example.com")

	in := &models.Settings{
		UserID:              userID,
		RiskProfile:         models.RiskModerate,
		RiskScore:           6.5,
		MaxPositionPct:      models.MustDecimal("10"),
		MaxPortfolioRiskPct: models.MustDecimal("2.5"),
		AlertPreferences: models.AlertPreferences{
			models.ChannelEmail: {Enabled: true, Address: "s@example.com"},
		},
	}
	if err := s.Settings.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Settings.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RiskProfile != models.RiskModerate || got.RiskScore != 6.5 {
		t.Errorf("profile round-trip: %s %.1f", got.RiskProfile, got.RiskScore)
	}
	if !got.MaxPortfolioRiskPct.Equal(models.MustDecimal("2.5")) {
		t.Errorf("max portfolio risk: got %s", got.MaxPortfolioRiskPct)
	}
	prefs, ok := got.AlertPreferences[models.ChannelEmail]
	if !ok || !prefs.Enabled || prefs.Address != "s@example.com" {
		t.Errorf("alert preferences lost: %+v", got.AlertPreferences)
	}

	// Second upsert replaces the row.
	in.RiskProfile = models.RiskAggressive
	in.AlertPreferences = nil
	if err := s.Settings.Upsert(ctx, in); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, err = s.Settings.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.RiskProfile != models.RiskAggressive {
		t.Errorf("update not applied: %s", got.RiskProfile)
	}
	if len(got.AlertPreferences) != 0 {
		t.Errorf("cleared preferences came back: %+v", got.AlertPreferences)
	}

	if _, err := s.Settings.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing settings: expected ErrNotFound, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Trades
// ════════════════════════════════════════════════════════════════════

func testTrade(userID, portfolioID int64, symbol string, executed time.Time) *models.TradeRecord {
	return &models.TradeRecord{
		UserID:           userID,
		PortfolioID:      portfolioID,
		OrderID:          "ord-1",
		Symbol:           symbol,
		Side:             models.SideBuy,
		Quantity:         models.MustDecimal("10.5"),
		Price:            models.MustDecimal("100.1234"),
		TotalValue:       models.MustDecimal("1051.2957"),
		Commission:       models.MustDecimal("9.5"),
		ExecutedAt:       executed,
		SignalConfidence: 80,
		Currency:         "AUD",
		FXRateToAUD:      models.MustDecimal("1"),
		TotalValueAUD:    models.MustDecimal("1051.2957"),
		AcquisitionDate:  executed,
		CostBasisPerUnit: models.MustDecimal("101.0281"),
		CostBasisTotal:   models.MustDecimal("1060.7957"),
		TaxYear:          "FY2024",
	}
}

func TestTradeRepo_SaveAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "t@example.com")
	pfID, err := s.Portfolios.Create(ctx, testPortfolio(userID, "core"))
	if err != nil {
		t.Fatalf("create portfolio: %v", err)
	}

	early := testTrade(userID, pfID, "BHP.AX", date(2024, time.January, 10))
	late := testTrade(userID, pfID, "CBA.AX", date(2024, time.March, 10))
	late.FXRateToAUD = models.MustDecimal("0.65432100") // exercises 8 dp round-trip

	if _, err := s.Trades.SaveTrade(ctx, late); err != nil {
		t.Fatalf("save late: %v", err)
	}
	if _, err := s.Trades.SaveTrade(ctx, early); err != nil {
		t.Fatalf("save early: %v", err)
	}

	byYear, err := s.Trades.TradesByTaxYear(ctx, "FY2024")
	if err != nil {
		t.Fatalf("TradesByTaxYear: %v", err)
	}
	if len(byYear) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(byYear))
	}
	// Oldest first.
	if byYear[0].Symbol != "BHP.AX" || byYear[1].Symbol != "CBA.AX" {
		t.Errorf("order: got %s then %s", byYear[0].Symbol, byYear[1].Symbol)
	}

	got := byYear[1]
	if !got.Quantity.Equal(models.MustDecimal("10.5")) {
		t.Errorf("quantity: got %s", got.Quantity)
	}
	if !got.Price.Equal(models.MustDecimal("100.1234")) {
		t.Errorf("price scale lost: got %s", got.Price)
	}
	// TEXT storage keeps the exact scale the rate was written with.
	if got.FXRateToAUD.String() != "0.65432100" {
		t.Errorf("fx rate scale lost: got %s", got.FXRateToAUD)
	}
	if !got.AcquisitionDate.Equal(date(2024, time.March, 10)) {
		t.Errorf("acquisition date: got %s", got.AcquisitionDate)
	}
	if got.UserID != userID || got.PortfolioID != pfID {
		t.Errorf("owner ids: got %d/%d", got.UserID, got.PortfolioID)
	}

	bySymbol, err := s.Trades.TradesBySymbol(ctx, "BHP.AX")
	if err != nil {
		t.Fatalf("TradesBySymbol: %v", err)
	}
	if len(bySymbol) != 1 {
		t.Errorf("expected 1 BHP.AX trade, got %d", len(bySymbol))
	}

	history, err := s.Trades.History(ctx, 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Symbol != "CBA.AX" {
		t.Errorf("history should be newest first: %+v", history)
	}
}

func TestTradeRepo_OptionalOwners(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Trades from the CLI paper loop have no user or portfolio.
	rec := testTrade(0, 0, "AAPL", date(2024, time.February, 1))
	rec.AcquisitionDate = time.Time{}
	if _, err := s.Trades.SaveTrade(ctx, rec); err != nil {
		t.Fatalf("save ownerless trade: %v", err)
	}

	got, err := s.Trades.TradesBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("TradesBySymbol: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(got))
	}
	if got[0].UserID != 0 || got[0].PortfolioID != 0 {
		t.Errorf("null owners should read back as zero: %d/%d", got[0].UserID, got[0].PortfolioID)
	}
	if !got[0].AcquisitionDate.IsZero() {
		t.Errorf("null acquisition date should stay zero: %s", got[0].AcquisitionDate)
	}
}

func TestTradeRepo_RejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	rec := testTrade(0, 0, "AAPL", date(2024, time.February, 1))
	rec.Quantity = models.MustDecimal("0")
	if _, err := s.Trades.SaveTrade(context.Background(), rec); err == nil {
		t.Errorf("invalid record should be rejected before hitting the database")
	}
}

// ════════════════════════════════════════════════════════════════════
// Cascades and ledger integration
// ════════════════════════════════════════════════════════════════════

func TestCascadeDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID := createTestUser(t, s, "gone@example.com")
	pfID, err := s.Portfolios.Create(ctx, testPortfolio(userID, "core"))
	if err != nil {
		t.Fatalf("create portfolio: %v", err)
	}
	if err := s.Settings.Upsert(ctx, &models.Settings{
		UserID:      userID,
		RiskProfile: models.RiskConservative,
	}); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}
	if _, err := s.Trades.SaveTrade(ctx, testTrade(userID, pfID, "BHP.AX", date(2024, time.January, 2))); err != nil {
		t.Fatalf("save trade: %v", err)
	}

	if err := s.Users.Delete(ctx, userID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := s.Portfolios.Get(ctx, pfID); !errors.Is(err, ErrNotFound) {
		t.Errorf("portfolio should cascade: got %v", err)
	}
	if _, err := s.Settings.Get(ctx, userID); !errors.Is(err, ErrNotFound) {
		t.Errorf("settings should cascade: got %v", err)
	}
	trades, err := s.Trades.TradesByPortfolio(ctx, pfID)
	if err != nil {
		t.Fatalf("TradesByPortfolio: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("trades should cascade: %d left", len(trades))
	}
}

func TestTradeRepo_SatisfiesLedgerStore(t *testing.T) {
	var _ ledger.Store = (*TradeRepo)(nil)

	s := openTestStore(t)
	ctx := context.Background()

	l := ledger.New(nil).WithStore(s.Trades)
	buy := ledger.TradeInput{
		Symbol:     "AAPL",
		Side:       models.SideBuy,
		Quantity:   models.MustDecimal("100"),
		Price:      models.MustDecimal("40"),
		ExecutedAt: date(2022, time.January, 1),
	}
	if _, err := l.Record(ctx, buy); err != nil {
		t.Fatalf("record buy: %v", err)
	}
	sell := buy
	sell.Side = models.SideSell
	sell.Price = models.MustDecimal("50")
	sell.ExecutedAt = date(2023, time.February, 5)
	rec, err := l.Record(ctx, sell)
	if err != nil {
		t.Fatalf("record sell: %v", err)
	}
	if rec.ID == 0 {
		t.Errorf("persisted record should carry its row id")
	}

	// The report reads back through sqlite.
	report, err := l.Report(ctx, "FY2023")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Sells != 1 || !report.NetGain.Equal(models.MustDecimal("500")) {
		t.Errorf("report through store: sells %d net %s", report.Sells, report.NetGain)
	}
}
