// Package analytics reads the delivery audit trail for reporting: success and
// read rates, latency percentiles and hourly event volumes. It never writes.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("analytics"),
	}
}

var Module = fx.Module("analytics",
	fx.Provide(NewService),
)

// TimingSummary holds nearest-rank percentiles over a latency sample.
type TimingSummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

type RatesSummary struct {
	KlienID snowflake.ID `json:"klien_id"`
	From    time.Time    `json:"from"`
	To      time.Time    `json:"to"`

	TotalMessages int64 `json:"total_messages"`
	Delivered     int64 `json:"delivered"`
	Read          int64 `json:"read"`
	Failed        int64 `json:"failed"`

	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
	FailureRate  float64 `json:"failure_rate"`

	DeliveryTime TimingSummary `json:"delivery_time"`
	ReadTime     TimingSummary `json:"read_time"`
}

// HourlyBucket counts events per type for one hour of a day.
type HourlyBucket struct {
	Hour   int                              `json:"hour"`
	Counts map[messagedomain.EventType]int64 `json:"counts"`
	Total  int64                            `json:"total"`
}

type statusCount struct {
	Status messagedomain.MessageStatus
	Total  int64
}

// Rates aggregates delivery outcomes for a tenant over [from, to). Delivery
// counts messages that reached delivered or read; read only counts read.
func (s *Service) Rates(ctx context.Context, klienID snowflake.ID, from, to time.Time) (*RatesSummary, error) {
	if !to.After(from) {
		return nil, messagedomain.ErrInvalidTimeRange
	}

	var counts []statusCount
	err := s.db.WithContext(ctx).
		Model(&messagedomain.MessageLog{}).
		Select("status, COUNT(*) AS total").
		Where("klien_id = ? AND created_at >= ? AND created_at < ?", klienID, from, to).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	summary := &RatesSummary{KlienID: klienID, From: from, To: to}
	for _, row := range counts {
		summary.TotalMessages += row.Total
		switch row.Status {
		case messagedomain.StatusDelivered, messagedomain.StatusRead:
			summary.Delivered += row.Total
		case messagedomain.StatusFailed, messagedomain.StatusRejected, messagedomain.StatusExpired:
			summary.Failed += row.Total
		}
		if row.Status == messagedomain.StatusRead {
			summary.Read += row.Total
		}
	}
	if summary.TotalMessages > 0 {
		total := float64(summary.TotalMessages)
		summary.DeliveryRate = RoundRate(float64(summary.Delivered) / total * 100)
		summary.ReadRate = RoundRate(float64(summary.Read) / total * 100)
		summary.FailureRate = RoundRate(float64(summary.Failed) / total * 100)
	}

	deliveryTimes, err := s.timingSample(ctx, klienID, from, to, "delivery_time_seconds")
	if err != nil {
		return nil, err
	}
	summary.DeliveryTime = summarize(deliveryTimes)

	readTimes, err := s.timingSample(ctx, klienID, from, to, "read_time_seconds")
	if err != nil {
		return nil, err
	}
	summary.ReadTime = summarize(readTimes)

	return summary, nil
}

func (s *Service) timingSample(ctx context.Context, klienID snowflake.ID, from, to time.Time, column string) ([]float64, error) {
	var sample []float64
	err := s.db.WithContext(ctx).
		Model(&messagedomain.MessageEvent{}).
		Where("klien_id = ? AND received_at >= ? AND received_at < ?", klienID, from, to).
		Where(column+" IS NOT NULL").
		Pluck(column, &sample).Error
	if err != nil {
		return nil, err
	}
	sort.Float64s(sample)
	return sample, nil
}

func summarize(sorted []float64) TimingSummary {
	return TimingSummary{
		Count: len(sorted),
		P50:   Percentile(sorted, 50),
		P95:   Percentile(sorted, 95),
		P99:   Percentile(sorted, 99),
	}
}

// HourlyBuckets returns 24 buckets of event counts per type for one UTC day.
// Hours without traffic still appear, zeroed.
func (s *Service) HourlyBuckets(ctx context.Context, klienID snowflake.ID, day time.Time) ([]HourlyBucket, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var events []messagedomain.MessageEvent
	err := s.db.WithContext(ctx).
		Select("event_type, received_at").
		Where("klien_id = ? AND received_at >= ? AND received_at < ?", klienID, dayStart, dayEnd).
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	buckets := make([]HourlyBucket, 24)
	for hour := range buckets {
		buckets[hour] = HourlyBucket{Hour: hour, Counts: map[messagedomain.EventType]int64{}}
	}
	for _, event := range events {
		hour := event.ReceivedAt.UTC().Hour()
		buckets[hour].Counts[event.EventType]++
		buckets[hour].Total++
	}
	return buckets, nil
}
