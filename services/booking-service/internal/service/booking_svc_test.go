package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/asiradnan/musical-bassoon/pkg/db"
	"github.com/asiradnan/musical-bassoon/pkg/logx"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/domain"
	"github.com/asiradnan/musical-bassoon/services/booking-service/internal/repository"
)

var (
	alice = domain.Actor{UserID: "alice", Email: "alice@example.com"}
	bob   = domain.Actor{UserID: "bob", Email: "bob@example.com"}
	admin = domain.Actor{UserID: "root", Email: "root@example.com", Admin: true}
)

type fixture struct {
	svc *BookingSvc
	gdb *gorm.DB
	now time.Time
}

// newFixture builds a service on a fresh sqlite file. The clock reads
// 2026-10-15 09:00 UTC unless the test moves it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Open("sqlite", filepath.Join(t.TempDir(), "booking.db"))
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewBookingRepo(gdb)
	if err := repo.Migrate(); err != nil {
		t.Fatal(err)
	}
	f := &fixture{gdb: gdb, now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	hours, err := domain.ParseOpeningHours("09:00", "21:00")
	if err != nil {
		t.Fatal(err)
	}
	f.svc = NewBookingSvc(repo, Options{
		Hours:    hours,
		Policy:   domain.NewCancellationPolicy(24*time.Hour, time.UTC),
		Location: time.UTC,
		Clock:    domain.ClockFunc(func() time.Time { return f.now }),
		Logger:   logx.Discard(),
	})
	return f
}

func (f *fixture) create(t *testing.T, actor domain.Actor, room domain.Room, date, start, end string) *domain.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), actor, CreateInput{Room: string(room), Date: date, StartTime: start, EndTime: end})
	if err != nil {
		t.Fatalf("create %s %s %s-%s: %v", room, date, start, end, err)
	}
	return b
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.gdb.Model(&domain.Booking{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

// events returns every outbox row in commit order.
func (f *fixture) events(t *testing.T) []domain.OutboxEvent {
	t.Helper()
	var out []domain.OutboxEvent
	if err := f.gdb.Order("created_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		t.Fatal(err)
	}
	return out
}

func wantKind(t *testing.T, err error, k domain.Kind) {
	t.Helper()
	if got := domain.KindOf(err); got != k {
		t.Fatalf("err = %v (kind %q), want kind %q", err, got, k)
	}
}

func TestCreateComputesPriceAndHours(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, alice, domain.StudioB, "2026-10-20", "9:30", "11:00")

	if b.StartTime != "09:30" || b.EndTime != "11:00" {
		t.Fatalf("window = %s-%s, want canonical 09:30-11:00", b.StartTime, b.EndTime)
	}
	if b.TotalHours != 1.5 {
		t.Fatalf("total hours = %v, want 1.5", b.TotalHours)
	}
	if b.Price.StringFixed(2) != "67.50" {
		t.Fatalf("price = %s, want 67.50", b.Price.StringFixed(2))
	}
	if b.UserID != "alice" || b.UserEmail != "alice@example.com" || b.IsPaid || b.IsCancelled {
		t.Fatalf("unexpected booking %+v", b)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		in   CreateInput
		want domain.Kind
	}{
		{"missing room", CreateInput{Date: "2026-10-20", StartTime: "10:00", EndTime: "11:00"}, domain.KindBadRequest},
		{"unknown room", CreateInput{Room: "Garage", Date: "2026-10-20", StartTime: "10:00", EndTime: "11:00"}, domain.KindBadRequest},
		{"bad date", CreateInput{Room: "Studio A", Date: "20/10/2026", StartTime: "10:00", EndTime: "11:00"}, domain.KindBadRequest},
		{"bad time", CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "10am", EndTime: "11:00"}, domain.KindBadRequest},
		{"end before start", CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "12:00", EndTime: "11:00"}, domain.KindBadRequest},
		{"zero length", CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "11:00", EndTime: "11:00"}, domain.KindBadRequest},
		{"past date", CreateInput{Room: "Studio A", Date: "2026-10-14", StartTime: "10:00", EndTime: "11:00"}, domain.KindBadRequest},
		{"before opening", CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "08:00", EndTime: "10:00"}, domain.KindBadRequest},
		{"after closing", CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "20:00", EndTime: "21:30"}, domain.KindBadRequest},
		{"under an hour", CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "10:00", EndTime: "10:30"}, domain.KindBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), alice, tc.in)
			wantKind(t, err, tc.want)
		})
	}
	if n := f.count(t); n != 0 {
		t.Fatalf("%d bookings stored after rejected creates", n)
	}
}

func TestCreateMinimumDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "10:00", EndTime: "10:59"}
	if _, err := f.svc.Create(ctx, alice, in); !errors.Is(err, domain.ErrTooShort) {
		t.Fatalf("err = %v, want too short", err)
	}
	// the last hour before closing is bookable
	f.create(t, alice, domain.StudioA, "2026-10-20", "20:00", "21:00")
}

func TestCreateRequiresUser(t *testing.T) {
	f := newFixture(t)
	anon := domain.Actor{Email: "nobody@example.com"}
	_, err := f.svc.Create(context.Background(), anon, CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: "10:00", EndTime: "11:00"})
	if !errors.Is(err, domain.ErrNoUser) {
		t.Fatalf("err = %v, want user id required", err)
	}
	if n := f.count(t); n != 0 {
		t.Fatalf("stored %d ownerless bookings", n)
	}
}

func TestCreateToday(t *testing.T) {
	f := newFixture(t)
	f.create(t, alice, domain.StudioA, "2026-10-15", "18:00", "19:00")
}

func TestCreateConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "12:00")

	// back to back on both sides
	f.create(t, bob, domain.StudioA, "2026-10-20", "12:00", "13:00")
	f.create(t, bob, domain.StudioA, "2026-10-20", "09:00", "10:00")
	// same window, different room or date
	f.create(t, bob, domain.StudioB, "2026-10-20", "10:00", "12:00")
	f.create(t, bob, domain.StudioA, "2026-10-21", "10:00", "12:00")

	before := f.count(t)
	for _, w := range [][2]string{{"10:00", "12:00"}, {"11:00", "12:00"}, {"11:30", "12:30"}, {"09:30", "10:30"}, {"09:00", "13:00"}} {
		_, err := f.svc.Create(ctx, bob, CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: w[0], EndTime: w[1]})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("%s-%s: err = %v, want conflict", w[0], w[1], err)
		}
	}
	if after := f.count(t); after != before {
		t.Fatalf("bookings %d -> %d after rejected overlaps", before, after)
	}
}

func TestConcurrentCreateExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	windows := [][2]string{
		{"10:00", "12:00"}, {"10:30", "11:30"}, {"09:00", "11:00"}, {"10:15", "11:15"},
		{"09:30", "13:00"}, {"09:45", "10:45"}, {"10:30", "12:00"}, {"09:40", "10:40"},
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		w := windows[i%len(windows)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Create(context.Background(), alice, CreateInput{Room: "Studio A", Date: "2026-10-20", StartTime: w[0], EndTime: w[1]})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	// every window covers 10:30-10:40, so all pairs clash
	if ok != 1 || conflicts != 31 {
		t.Fatalf("ok=%d conflicts=%d, want 1 and 31", ok, conflicts)
	}
	if n := f.count(t); n != 1 {
		t.Fatalf("stored %d bookings, want 1", n)
	}
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, alice, domain.StudioA, "2026-10-20", "14:00", "15:00")
	f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "11:00")
	f.create(t, alice, domain.StudioB, "2026-10-20", "12:00", "13:00")

	got, err := f.svc.Availability(ctx, "Studio A", "2026-10-20")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].StartTime != "10:00" || got[1].StartTime != "14:00" {
		t.Fatalf("availability = %v", got)
	}

	if _, err := f.svc.Cancel(ctx, alice, b.ID); err != nil {
		t.Fatal(err)
	}
	got, err = f.svc.Availability(ctx, "Studio A", "2026-10-20")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].StartTime != "10:00" {
		t.Fatalf("availability after cancel = %v", got)
	}

	empty, err := f.svc.Availability(ctx, "Studio A", "2026-11-01")
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("want empty non-nil list, got %#v", empty)
	}

	_, err = f.svc.Availability(ctx, "", "2026-10-20")
	if !errors.Is(err, domain.ErrMissingRoomDate) {
		t.Fatalf("err = %v, want missing room/date", err)
	}
	_, err = f.svc.Availability(ctx, "Garage", "2026-10-20")
	if !errors.Is(err, domain.ErrUnknownRoom) {
		t.Fatalf("err = %v, want unknown room", err)
	}
}

func TestCancelPolicyBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "11:00")
	start := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)

	f.now = start.Add(-24*time.Hour + 36*time.Second) // 23.99h
	_, err := f.svc.Cancel(ctx, alice, b.ID)
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("err = %v, want policy violation", err)
	}
	stored, err := f.svc.Get(ctx, alice, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.IsCancelled {
		t.Fatal("booking cancelled despite policy violation")
	}

	f.now = start.Add(-24 * time.Hour)
	got, err := f.svc.Cancel(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("cancel at exactly 24h: %v", err)
	}
	if !got.IsCancelled || got.CancelledAt == nil {
		t.Fatalf("booking not cancelled: %+v", got)
	}
}

func TestAdminBypassesPolicy(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, alice, domain.StudioA, "2026-10-15", "10:00", "11:00")

	// one hour after the booking started
	f.now = time.Date(2026, 10, 15, 11, 0, 0, 0, time.UTC)
	_, err := f.svc.Cancel(context.Background(), alice, b.ID)
	wantKind(t, err, domain.KindPolicyViolation)

	got, err := f.svc.Cancel(context.Background(), admin, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsCancelled {
		t.Fatal("admin cancel did not apply")
	}
}

func TestTerminalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "11:00")

	if _, err := f.svc.Pay(ctx, alice, b.ID, domain.PaymentResult{ID: "PAY-1", Status: "COMPLETED"}); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Cancel(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("cancel after pay: %v", err)
	}
	if !got.IsPaid || !got.IsCancelled {
		t.Fatalf("want paid and cancelled, got paid=%v cancelled=%v", got.IsPaid, got.IsCancelled)
	}

	_, err = f.svc.Cancel(ctx, alice, b.ID)
	if !errors.Is(err, domain.ErrAlreadyCancelled) {
		t.Fatalf("second cancel err = %v", err)
	}
	_, err = f.svc.Cancel(ctx, admin, b.ID)
	if !errors.Is(err, domain.ErrAlreadyCancelled) {
		t.Fatalf("admin cancel of cancelled booking err = %v", err)
	}
}

func TestPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "11:00")
	pr := domain.PaymentResult{ID: "PAY-1", Status: "COMPLETED", UpdateTime: "2026-10-15T09:00:00Z", EmailAddress: "payer@example.com"}

	got, err := f.svc.Pay(ctx, alice, b.ID, pr)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsPaid || got.PaidAt == nil {
		t.Fatalf("not paid: %+v", got)
	}
	stored, ok := got.Payment()
	if !ok || stored != pr {
		t.Fatalf("payment result = %+v, want %+v", stored, pr)
	}

	// replaying the same payment is a no-op
	again, err := f.svc.Pay(ctx, alice, b.ID, pr)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.PaidAt.Equal(*got.PaidAt) {
		t.Fatal("replay changed paid time")
	}

	_, err = f.svc.Pay(ctx, alice, b.ID, domain.PaymentResult{ID: "PAY-2"})
	if !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("err = %v, want already paid", err)
	}

	pending := f.events(t)
	paid := 0
	for _, ev := range pending {
		if ev.RoutingKey == domain.RKBookingPaid {
			paid++
		}
	}
	if paid != 1 {
		t.Fatalf("booking.paid events = %d, want 1", paid)
	}
}

func TestPayCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "11:00")
	if _, err := f.svc.Cancel(ctx, alice, b.ID); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Pay(ctx, alice, b.ID, domain.PaymentResult{ID: "PAY-1"})
	if !errors.Is(err, domain.ErrAlreadyCancelled) {
		t.Fatalf("err = %v, want already cancelled", err)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "11:00")

	_, err := f.svc.Cancel(ctx, bob, b.ID)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("cancel err = %v, want forbidden", err)
	}
	_, err = f.svc.Pay(ctx, bob, b.ID, domain.PaymentResult{ID: "PAY-1"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("pay err = %v, want forbidden", err)
	}
	_, err = f.svc.Get(ctx, bob, b.ID)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("get err = %v, want forbidden", err)
	}
	_, err = f.svc.ListAll(ctx, bob)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("list all err = %v, want forbidden", err)
	}

	stored, err := f.svc.Get(ctx, admin, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.IsCancelled || stored.IsPaid {
		t.Fatalf("forbidden calls changed the booking: %+v", stored)
	}

	_, err = f.svc.Cancel(ctx, alice, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "11:00")
	f.create(t, alice, domain.StudioA, "2026-10-22", "10:00", "11:00")
	f.create(t, bob, domain.StudioB, "2026-10-21", "10:00", "11:00")

	mine, err := f.svc.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].Date != "2026-10-22" {
		t.Fatalf("alice's bookings = %+v", mine)
	}
	all, err := f.svc.ListAll(ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	_, err = f.svc.ListForUser(ctx, "")
	wantKind(t, err, domain.KindBadRequest)
}

func TestLifecycleWritesOutboxEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, alice, domain.StudioA, "2026-10-20", "10:00", "12:00")
	f.now = f.now.Add(time.Minute)
	if _, err := f.svc.Pay(ctx, alice, b.ID, domain.PaymentResult{ID: "PAY-1"}); err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(time.Minute)
	if _, err := f.svc.Cancel(ctx, alice, b.ID); err != nil {
		t.Fatal(err)
	}

	pending := f.events(t)
	keys := make([]string, 0, len(pending))
	for _, ev := range pending {
		keys = append(keys, ev.RoutingKey)
	}
	want := []string{domain.RKBookingCreated, domain.RKBookingPaid, domain.RKBookingCancelled}
	if len(keys) != len(want) {
		t.Fatalf("events = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("events = %v, want %v", keys, want)
		}
	}

	var last domain.BookingEvent
	if err := json.Unmarshal(pending[2].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.BookingID != b.ID || last.Email != "alice@example.com" || !last.IsPaid || last.PaymentID != "PAY-1" || last.Price != "100.00" {
		t.Fatalf("cancel payload = %+v", last)
	}
}

func TestRooms(t *testing.T) {
	f := newFixture(t)
	rooms := f.svc.Rooms()
	if len(rooms) != 5 {
		t.Fatalf("rooms = %v", rooms)
	}
	if rooms[3].Room != domain.StudioA || rooms[3].HourlyRate != "50.00" {
		t.Fatalf("rooms[3] = %+v", rooms[3])
	}
}
