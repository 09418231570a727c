package invoices

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// ErrCouponIneligible is never returned to callers; an ineligible coupon is
// logged and the invoice is generated without it.
var ErrCouponIneligible = errors.New("coupon ineligible")

// CouponRejection carries the rule that disqualified the coupon.
type CouponRejection struct {
	Reason string
}

func (r *CouponRejection) Error() string {
	return "coupon ineligible: " + r.Reason
}

func (r *CouponRejection) Unwrap() error {
	return ErrCouponIneligible
}

func reject(reason string) error {
	return &CouponRejection{Reason: reason}
}

// CouponCounts is the number of unreleased redemptions of a coupon.
type CouponCounts struct {
	Total    int64
	ForOwner int64
}

// EvaluateCoupon returns the discount the coupon grants on gross, never more
// than gross itself.
func EvaluateCoupon(c *models.Coupon, gross int64, now time.Time, used CouponCounts) (int64, error) {
	switch {
	case c == nil:
		return 0, reject("not_found")
	case !c.Active:
		return 0, reject("inactive")
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return 0, reject("not_started")
	case c.ValidUntil != nil && !now.Before(*c.ValidUntil):
		return 0, reject("expired")
	case c.MinTransaction > 0 && gross < c.MinTransaction:
		return 0, reject("min_transaction")
	case c.MaxUsage > 0 && used.Total >= int64(c.MaxUsage):
		return 0, reject("max_usage")
	case c.MaxPerCustomer > 0 && used.ForOwner >= int64(c.MaxPerCustomer):
		return 0, reject("max_per_customer")
	}

	var discount int64
	switch c.Type {
	case enums.CouponTypePercent:
		if c.Value <= 0 || c.Value > 100 {
			return 0, reject("invalid_value")
		}
		discount = decimal.NewFromInt(gross).
			Mul(decimal.NewFromInt(c.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case enums.CouponTypeFixed:
		if c.Value <= 0 {
			return 0, reject("invalid_value")
		}
		discount = c.Value
	default:
		return 0, reject("invalid_type")
	}

	if c.MaxDiscount > 0 && discount > c.MaxDiscount {
		discount = c.MaxDiscount
	}
	if discount > gross {
		discount = gross
	}
	return discount, nil
}
