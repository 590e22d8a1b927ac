package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/entrega-next/internal/config"
	"github.com/entrega-next/internal/constants"
	"github.com/entrega-next/internal/models"

	"github.com/shopspring/decimal"
)

const earthRadiusKm = 6371.0

// Pricing 按距离计价：base = 每公里单价 × 距离，final = base × (1 + 加价率)，再夹在 [min, max]
type Pricing struct {
	perKm    decimal.Decimal
	markup   decimal.Decimal
	minPrice decimal.Decimal
	maxPrice decimal.Decimal
	currency string
	zoneKey  string
}

// PriceQuote 计价结果
type PriceQuote struct {
	DistanceKm float64
	BasePrice  models.Money
	FinalPrice models.Money
	Currency   string
	Factors    models.PriceFactors
}

// NewPricing 从配置创建计价器
func NewPricing(cfg config.PricingConfig) (*Pricing, error) {
	parse := func(name, raw, fallback string) (decimal.Decimal, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			raw = fallback
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("pricing.%s: %w", name, err)
		}
		if value.IsNegative() {
			return decimal.Zero, fmt.Errorf("pricing.%s must not be negative", name)
		}
		return value, nil
	}
	perKm, err := parse("per_km_rate", cfg.PerKmRate, "2.50")
	if err != nil {
		return nil, err
	}
	markup, err := parse("markup_rate", cfg.MarkupRate, "0.10")
	if err != nil {
		return nil, err
	}
	minPrice, err := parse("min_price", cfg.MinPrice, "5.00")
	if err != nil {
		return nil, err
	}
	maxPrice, err := parse("max_price", cfg.MaxPrice, "100.00")
	if err != nil {
		return nil, err
	}
	if maxPrice.LessThan(minPrice) {
		return nil, fmt.Errorf("pricing.max_price must be >= min_price")
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = constants.CurrencyBRL
	}
	return &Pricing{
		perKm:    perKm,
		markup:   markup,
		minPrice: minPrice,
		maxPrice: maxPrice,
		currency: currency,
		zoneKey:  strings.TrimSpace(cfg.ZoneKey),
	}, nil
}

// Currency 报价币种
func (p *Pricing) Currency() string {
	return p.currency
}

// Quote 计算报价（相同输入结果确定）
func (p *Pricing) Quote(distanceKm float64, at time.Time) (PriceQuote, error) {
	if distanceKm <= 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return PriceQuote{}, ErrInvalidPrice
	}
	distance := decimal.NewFromFloat(distanceKm).Round(3)
	base := p.perKm.Mul(distance).Round(2)
	final := base.Mul(decimal.NewFromInt(1).Add(p.markup)).Round(2)
	clamped := ""
	if final.LessThan(p.minPrice) {
		final = p.minPrice
		clamped = "min"
	} else if final.GreaterThan(p.maxPrice) {
		final = p.maxPrice
		clamped = "max"
	}
	distanceValue, _ := distance.Float64()
	return PriceQuote{
		DistanceKm: distanceValue,
		BasePrice:  models.NewMoneyFromDecimal(base),
		FinalPrice: models.NewMoneyFromDecimal(final),
		Currency:   p.currency,
		Factors: models.PriceFactors{
			SchemaVersion: constants.PriceFactorsSchemaVersion,
			DistanceKm:    distanceValue,
			PerKmRate:     p.perKm.String(),
			MarkupRate:    p.markup.String(),
			MinPrice:      p.minPrice.StringFixed(2),
			MaxPrice:      p.maxPrice.StringFixed(2),
			Clamped:       clamped,
			TimeOfDay:     TimeOfDayBucket(at),
			ZoneKey:       p.zoneKey,
		},
	}, nil
}

// TimeOfDayBucket 时段：matutino 6-12，vespertino 12-18，noturno 18-22，其余 madrugada
func TimeOfDayBucket(at time.Time) string {
	hour := at.Hour()
	switch {
	case hour >= 6 && hour < 12:
		return "matutino"
	case hour >= 12 && hour < 18:
		return "vespertino"
	case hour >= 18 && hour < 22:
		return "noturno"
	default:
		return "madrugada"
	}
}

// HaversineKm 两点球面距离（公里）
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// EstimateMinutes 按平均速度估算耗时（向上取整，至少 1 分钟）
func EstimateMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = 25
	}
	if distanceKm <= 0 {
		return 1
	}
	minutes := int(math.Ceil(distanceKm / speedKmh * 60))
	if minutes < 1 {
		return 1
	}
	return minutes
}
