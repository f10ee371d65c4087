package workflow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

// 2026-01-05 is a Monday.
func mustDate(t *testing.T, day int, hour int) time.Time {
	t.Helper()
	return time.Date(2026, time.January, day, hour, 0, 0, 0, time.UTC)
}

func TestScheduleShiftBoundary(t *testing.T) {
	// Tuesday, non-HCM, default branch: base date passes through untouched.
	date, shift := Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-06T12:00:00",
		WarehouseCode:    "DN",
		OrderCreatedAt:   mustDate(t, 5, 9),
	})
	if date == nil || shift == nil {
		t.Fatal("expected a scheduled date")
	}
	if *shift != models.ShiftMorning {
		t.Fatalf("hour 12 must map to morning, got %q", *shift)
	}

	date, shift = Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-06T13:00:00",
		WarehouseCode:    "DN",
		OrderCreatedAt:   mustDate(t, 5, 9),
	})
	if *shift != models.ShiftAfternoon {
		t.Fatalf("hour 13 must map to afternoon, got %q", *shift)
	}
	if date.Hour() != 13 {
		t.Fatalf("expected base date untouched, got hour %d", date.Hour())
	}
}

func TestScheduleHCMWeekendSnap(t *testing.T) {
	// Saturday 14:00 snaps to Monday 08:00.
	date, shift := Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-10T14:00:00",
		WarehouseCode:    "HCM",
		OrderCreatedAt:   mustDate(t, 9, 9),
	})
	if date.Weekday() != time.Monday || date.Day() != 12 || date.Hour() != 8 {
		t.Fatalf("expected Monday Jan 12 08:00, got %s", date)
	}
	if *shift != models.ShiftMorning {
		t.Fatalf("expected morning after snap, got %q", *shift)
	}

	// Any Sunday snaps.
	date, _ = Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-11T09:00:00",
		WarehouseCode:    "HCM",
		OrderCreatedAt:   mustDate(t, 9, 9),
	})
	if date.Weekday() != time.Monday || date.Hour() != 8 {
		t.Fatalf("expected Monday 08:00 for Sunday result, got %s", date)
	}

	// Saturday morning stays.
	date, shift = Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-10T10:00:00",
		WarehouseCode:    "HCM",
		OrderCreatedAt:   mustDate(t, 9, 9),
	})
	if date.Weekday() != time.Saturday || date.Hour() != 10 {
		t.Fatalf("expected Saturday 10:00 kept, got %s", date)
	}
	if *shift != models.ShiftMorning {
		t.Fatalf("expected morning, got %q", *shift)
	}

	// Non-HCM results never snap.
	date, _ = Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-11T09:00:00",
		WarehouseCode:    "DN",
		OrderCreatedAt:   mustDate(t, 9, 9),
	})
	if date.Weekday() != time.Sunday {
		t.Fatalf("expected Sunday kept for non-HCM, got %s", date)
	}
}

func TestScheduleDistrictLeadTime(t *testing.T) {
	// Friday 08:00 + 2 shifts, non-HCM: advances straight through.
	date, _ := Schedule(ScheduleRequest{
		WarehouseCode:      "DN",
		OrderCreatedAt:     mustDate(t, 9, 8),
		DistrictLeadShifts: 2,
	})
	if date.Weekday() != time.Saturday || date.Hour() != 8 {
		t.Fatalf("expected Saturday 08:00, got %s", date)
	}

	// HCM skips weekend hours: the same advancement lands Monday.
	date, shift := Schedule(ScheduleRequest{
		WarehouseCode:      "HCM",
		OrderCreatedAt:     mustDate(t, 9, 8),
		DistrictLeadShifts: 2,
	})
	if date.Weekday() != time.Monday || date.Hour() != 8 {
		t.Fatalf("expected Monday 08:00 after weekend skip, got %s", date)
	}
	if *shift != models.ShiftMorning {
		t.Fatalf("expected morning, got %q", *shift)
	}
}

func TestScheduleDistrictLeadWinsOverOutOfStock(t *testing.T) {
	low := decimal.NewFromInt(1)
	date, _ := Schedule(ScheduleRequest{
		Quantity:           10,
		TheoreticalStock:   &low,
		WarehouseCode:      "DN",
		OrderCreatedAt:     mustDate(t, 6, 8),
		DistrictLeadShifts: 1,
	})
	// One shift from Tuesday 08:00, not the 4-shift out-of-stock lead.
	if date.Day() != 6 || date.Hour() != 20 {
		t.Fatalf("expected Tuesday 20:00 from district lead, got %s", date)
	}
}

func TestScheduleOutOfStockLeadTimes(t *testing.T) {
	low := decimal.NewFromInt(4)

	// Sunday order resets to Monday 08:00 first; non-HCM adds 4 shifts.
	date, _ := Schedule(ScheduleRequest{
		Quantity:         10,
		TheoreticalStock: &low,
		WarehouseCode:    "DN",
		OrderCreatedAt:   mustDate(t, 11, 9),
	})
	if date.Weekday() != time.Wednesday || date.Hour() != 8 {
		t.Fatalf("expected Wednesday 08:00, got %s", date)
	}

	// HCM uses 2 shifts.
	date, _ = Schedule(ScheduleRequest{
		Quantity:         10,
		TheoreticalStock: &low,
		WarehouseCode:    "HCM",
		OrderCreatedAt:   mustDate(t, 11, 9),
	})
	if date.Weekday() != time.Tuesday || date.Hour() != 8 {
		t.Fatalf("expected Tuesday 08:00, got %s", date)
	}

	// A long-lead brand promotion takes 6 shifts regardless of warehouse.
	date, _ = Schedule(ScheduleRequest{
		Quantity:         10,
		TheoreticalStock: &low,
		PromotionName:    "Dekko mega sale",
		WarehouseCode:    "HCM",
		OrderCreatedAt:   mustDate(t, 11, 9),
	})
	if date.Weekday() != time.Thursday || date.Hour() != 8 {
		t.Fatalf("expected Thursday 08:00 for brand promotion, got %s", date)
	}
}

func TestScheduleShopBulkLead(t *testing.T) {
	siblings := []*models.OrderLine{
		{CategoryLabel: "PVC Pipe", Quantity: 60, Total: decimal.NewFromInt(500000)},
	}
	date, _ := Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-06T09:00:00",
		Siblings:         siblings,
		CustomerIndustry: "Shop",
		WarehouseCode:    "DN",
		OrderCreatedAt:   mustDate(t, 5, 9),
	})
	// 60 units of pipe crosses the unit threshold: +24h on the base date.
	if date.Day() != 7 || date.Hour() != 9 {
		t.Fatalf("expected Jan 7 09:00 after 24h bulk lead, got %s", date)
	}

	// Below every threshold the base date passes through.
	small := []*models.OrderLine{
		{CategoryLabel: "PVC Pipe", Quantity: 2, Total: decimal.NewFromInt(1000)},
	}
	date, _ = Schedule(ScheduleRequest{
		BaseDeliveryDate: "2026-01-06T09:00:00",
		Siblings:         small,
		CustomerIndustry: "Shop",
		WarehouseCode:    "DN",
		OrderCreatedAt:   mustDate(t, 5, 9),
	})
	if date.Day() != 6 || date.Hour() != 9 {
		t.Fatalf("expected base date kept, got %s", date)
	}
}

func TestScheduleUnparseableDate(t *testing.T) {
	date, shift := Schedule(ScheduleRequest{
		BaseDeliveryDate: "not-a-date",
		WarehouseCode:    "DN",
		OrderCreatedAt:   mustDate(t, 5, 9),
	})
	if date != nil || shift != nil {
		t.Fatalf("expected (nil, nil) for unparseable date, got %v %v", date, shift)
	}
}

func TestWeekendReset(t *testing.T) {
	// Saturday before noon is kept.
	got := weekendReset(mustDate(t, 10, 11))
	if got.Weekday() != time.Saturday || got.Hour() != 11 {
		t.Fatalf("expected Saturday 11:00 kept, got %s", got)
	}
	// Saturday at noon resets.
	got = weekendReset(mustDate(t, 10, 12))
	if got.Weekday() != time.Monday || got.Hour() != 8 {
		t.Fatalf("expected Monday 08:00, got %s", got)
	}
}
