package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/datatypes"

	"tg_lottery_bot/internal/dbtest"
	"tg_lottery_bot/internal/domain"
)

func newTestFacade(t *testing.T) (*Facade, *test.Hook, func(rows ...any)) {
	t.Helper()

	db := dbtest.Open(t)
	logger, hook := test.NewNullLogger()
	facade := NewFacade(db, logrus.NewEntry(logger))

	return facade, hook, func(rows ...any) { dbtest.Fixtures(t, db, rows...) }
}

func TestFacadeRegisterAndLookup(t *testing.T) {
	facade, hook, _ := newTestFacade(t)
	ctx := context.Background()

	registered, err := facade.IsRegistered(ctx, 42)
	if err != nil || registered {
		t.Fatalf("expected unknown user, got registered=%v err=%v", registered, err)
	}

	user, created, err := facade.RegisterUser(ctx, domain.User{TelegramID: 42, Username: "alice", Language: "en"})
	if err != nil {
		t.Fatalf("RegisterUser returned error: %v", err)
	}
	if !created || user.Balance != 0 {
		t.Fatalf("expected new user with zero balance, got created=%v user=%+v", created, user)
	}

	if _, created, err = facade.RegisterUser(ctx, domain.User{TelegramID: 42}); err != nil || created {
		t.Fatalf("expected second registration to be a no-op, got created=%v err=%v", created, err)
	}

	registered, err = facade.IsRegistered(ctx, 42)
	if err != nil || !registered {
		t.Fatalf("expected user to be registered, got registered=%v err=%v", registered, err)
	}

	got, err := facade.GetUser(ctx, 42)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected id %s, got %s", user.ID, got.ID)
	}

	registeredLogs := 0
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "user_registered" {
			registeredLogs++
		}
	}
	if registeredLogs != 1 {
		t.Fatalf("expected one user_registered log, got %d", registeredLogs)
	}
}

func TestFacadeGetBalance(t *testing.T) {
	facade, _, insert := newTestFacade(t)
	ctx := context.Background()

	insert(&domain.User{TelegramID: 42, Balance: 12.5})

	balance, err := facade.GetBalance(ctx, 42)
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}
	if balance != 12.5 {
		t.Fatalf("expected balance 12.5, got %v", balance)
	}

	if _, err := facade.GetBalance(ctx, 43); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestFacadeFindLowBalanceUsers(t *testing.T) {
	facade, _, insert := newTestFacade(t)

	insert(
		&domain.User{TelegramID: 42, Balance: 3},
		&domain.User{TelegramID: 43, Balance: 10},
	)

	users, err := facade.FindLowBalanceUsers(context.Background(), 5)
	if err != nil {
		t.Fatalf("FindLowBalanceUsers returned error: %v", err)
	}

	var ids []int64
	for _, user := range users {
		ids = append(ids, user.TelegramID)
	}
	if diff := cmp.Diff([]int64{42}, ids); diff != "" {
		t.Fatalf("low balance users mismatch (-want +got):\n%s", diff)
	}
}

func TestFacadeFindRecentWinnersAndLedger(t *testing.T) {
	facade, _, insert := newTestFacade(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	winner := &domain.User{TelegramID: 42, Language: "en"}
	product := &domain.Product{Name: datatypes.JSONMap{"en": "Watch"}, Price: 120}
	insert(winner, product)

	round := &domain.LotteryRound{ProductID: product.ID, WinnerID: &winner.ID, Status: domain.RoundCompleted, UpdatedAt: now.Add(-5 * time.Minute)}
	insert(round)

	notices, err := facade.FindRecentWinners(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindRecentWinners returned error: %v", err)
	}
	if len(notices) != 1 || notices[0].RoundID != round.ID {
		t.Fatalf("expected the completed round, got %+v", notices)
	}

	claimed, err := facade.ClaimNotification(ctx, domain.NotificationRoundWon, round.ID.String(), 42)
	if err != nil || !claimed {
		t.Fatalf("expected claim, got claimed=%v err=%v", claimed, err)
	}
	claimed, err = facade.ClaimNotification(ctx, domain.NotificationRoundWon, round.ID.String(), 42)
	if err != nil || claimed {
		t.Fatalf("expected duplicate claim to be rejected, got claimed=%v err=%v", claimed, err)
	}
	if err := facade.ReleaseNotification(ctx, domain.NotificationRoundWon, round.ID.String()); err != nil {
		t.Fatalf("ReleaseNotification returned error: %v", err)
	}
}

func TestFacadeLogsAndWrapsStoreErrors(t *testing.T) {
	db := dbtest.Open(t)
	logger, hook := test.NewNullLogger()
	facade := NewFacade(db, logrus.NewEntry(logger))

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	_ = sqlDB.Close()

	if _, err := facade.GetUser(context.Background(), 42); err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected query failure distinct from ErrNotFound, got %v", err)
	}

	last := hook.LastEntry()
	if last == nil || last.Data["event"] != "get_user_failed" || last.Level != logrus.ErrorLevel {
		t.Fatalf("expected get_user_failed error log, got %+v", last)
	}
}

func TestFacadeRequiresInitialization(t *testing.T) {
	var facade *Facade
	ctx := context.Background()

	if _, err := facade.GetUser(ctx, 1); err == nil {
		t.Fatalf("expected nil facade to error")
	}
	if _, _, err := facade.RegisterUser(ctx, domain.User{TelegramID: 1}); err == nil {
		t.Fatalf("expected nil facade to error")
	}
	if _, err := facade.FindLowBalanceUsers(ctx, 5); err == nil {
		t.Fatalf("expected nil facade to error")
	}
}
