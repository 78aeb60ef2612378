package coupon

import "context"

// Kind separates coupons (discount vouchers applied in-session) from
// vouchers (value instruments redeemable out-of-band via tokens).
type Kind string

const (
	KindCoupon  Kind = "coupon"
	KindVoucher Kind = "voucher"
)

// String returns the wire value of the kind.
func (kind Kind) String() string {
	return string(kind)
}

// CatalogType is an admin-managed definition instances are minted against.
// Immutable once issued against; this package only reads it.
type CatalogType struct {
	TypeID           string `json:"type_id"`
	Kind             Kind   `json:"kind"`
	Name             string `json:"name"`
	PointsCost       int64  `json:"points_cost"`
	DiscountPercent  int    `json:"discount_percent"`
	ValuePoints      int64  `json:"value_points"`
	ValidFromUnixUTC int64  `json:"valid_from_unix_utc"`
	ValidToUnixUTC   int64  `json:"valid_to_unix_utc"`
}

// ActiveAt reports whether the type is inside its validity window.
func (catalogType CatalogType) ActiveAt(atUnixUTC int64) bool {
	if catalogType.ValidFromUnixUTC != 0 && atUnixUTC < catalogType.ValidFromUnixUTC {
		return false
	}
	if catalogType.ValidToUnixUTC != 0 && atUnixUTC > catalogType.ValidToUnixUTC {
		return false
	}
	return true
}

// Instance is a minted, uniquely-coded, single-use redeemable.
type Instance struct {
	InstanceID      string `json:"instance_id"`
	TypeID          string `json:"type_id"`
	Kind            Kind   `json:"kind"`
	OwnerUserID     string `json:"owner_user_id"`
	Code            string `json:"code"`
	IsUsed          bool   `json:"is_used"`
	AcquiredUnixUTC int64  `json:"acquired_unix_utc"`
	UsedUnixUTC     int64  `json:"used_unix_utc,omitempty"`
}

// Token is a secondary credential attached to a voucher instance for
// redemption outside the owner's own session. It expires independently of
// the voucher's use-state.
type Token struct {
	TokenID          string
	InstanceID       string
	Value            string
	ExpiresAtUnixUTC int64
	IsUsed           bool
	UsedUnixUTC      int64
}

// ExchangeResult reports a successful exchange.
type ExchangeResult struct {
	Instance         Instance
	PointsCost       int64
	RemainingBalance int64
	Token            *Token
}

// Debiter charges the exchange price against the owner's wallet. A failure
// aborts the whole exchange; no instance is minted. A debit that resolves to
// a replay of an earlier event reports alreadyApplied so the exchange aborts
// instead of minting a second instance for one charge.
type Debiter interface {
	Debit(ctx context.Context, userID string, eventID string, amount int64, description string) (remaining int64, alreadyApplied bool, err error)
}

// Store is the persistence contract used by Issuer.
//
// The ForUpdate reads must hold their row against concurrent writers for the
// remainder of the enclosing transaction; the Mark* mutations are guarded by
// the unused state and report ErrAlreadyUsed when the guard fails.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetCatalogType(ctx context.Context, typeID string) (CatalogType, bool, error)
	InsertInstance(ctx context.Context, instance Instance) error
	GetInstanceForUpdate(ctx context.Context, instanceID string) (Instance, error)
	MarkInstanceUsed(ctx context.Context, instanceID string, usedUnixUTC int64) error
	InsertToken(ctx context.Context, token Token) error
	GetTokenForUpdate(ctx context.Context, value string) (Token, error)
	MarkTokenUsed(ctx context.Context, tokenID string, usedUnixUTC int64) error
}
