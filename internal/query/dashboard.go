package query

import (
	"context"
	"time"

	"github.com/example/pos-billing/internal/domain/order"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const DefaultRecentLimit = 5

// SalesReader aggregates persisted orders.
type SalesReader interface {
	SalesBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, int64, error)
}

type RecentOrders interface {
	Recent(ctx context.Context, limit int) ([]order.Order, error)
}

// Dashboard is the day summary shown on the point of sale home screen.
type Dashboard struct {
	TodaySales      decimal.Decimal `json:"todaySales"`
	TodayOrderCount int64           `json:"todayOrderCount"`
	RecentOrders    []order.Order   `json:"recentOrders"`
}

type Handler struct {
	sales       SalesReader
	orders      RecentOrders
	recentLimit int
	loc         *time.Location
}

func NewHandler(sales SalesReader, orders RecentOrders, recentLimit int, loc *time.Location) *Handler {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	if loc == nil {
		loc = time.Local
	}
	return &Handler{sales: sales, orders: orders, recentLimit: recentLimit, loc: loc}
}

// Dashboard summarises the calendar day containing at, in the handler's
// time zone. The sales sum and the recent list are fetched concurrently.
func (h *Handler) Dashboard(ctx context.Context, at time.Time) (*Dashboard, error) {
	at = at.In(h.loc)
	start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, h.loc)
	end := start.AddDate(0, 0, 1)

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, count, err := h.sales.SalesBetween(gctx, start, end)
		if err != nil {
			return err
		}
		d.TodaySales, d.TodayOrderCount = total, count
		return nil
	})
	g.Go(func() error {
		recent, err := h.orders.Recent(gctx, h.recentLimit)
		if err != nil {
			return err
		}
		d.RecentOrders = recent
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if d.RecentOrders == nil {
		d.RecentOrders = []order.Order{}
	}
	return &d, nil
}
