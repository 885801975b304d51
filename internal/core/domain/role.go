package domain

// Role is the combination of the maker/taker and buyer/seller sides a party
// plays in a trade. It is fixed at trade creation.
type Role int

const (
	RoleUndefined Role = iota
	RoleMakerAsBuyer
	RoleMakerAsSeller
	RoleTakerAsBuyer
	RoleTakerAsSeller
)

// Roles lists every defined role.
var Roles = []Role{
	RoleMakerAsBuyer, RoleMakerAsSeller, RoleTakerAsBuyer, RoleTakerAsSeller,
}

// NewRole returns the role matching the given sides.
func NewRole(isMaker, isBuyer bool) Role {
	switch {
	case isMaker && isBuyer:
		return RoleMakerAsBuyer
	case isMaker:
		return RoleMakerAsSeller
	case isBuyer:
		return RoleTakerAsBuyer
	default:
		return RoleTakerAsSeller
	}
}

func (r Role) IsMaker() bool {
	return r == RoleMakerAsBuyer || r == RoleMakerAsSeller
}

func (r Role) IsTaker() bool {
	return r == RoleTakerAsBuyer || r == RoleTakerAsSeller
}

func (r Role) IsBuyer() bool {
	return r == RoleMakerAsBuyer || r == RoleTakerAsBuyer
}

func (r Role) IsSeller() bool {
	return r == RoleMakerAsSeller || r == RoleTakerAsSeller
}

// Peer returns the complementary role played by the counterparty.
func (r Role) Peer() Role {
	switch r {
	case RoleMakerAsBuyer:
		return RoleTakerAsSeller
	case RoleMakerAsSeller:
		return RoleTakerAsBuyer
	case RoleTakerAsBuyer:
		return RoleMakerAsSeller
	case RoleTakerAsSeller:
		return RoleMakerAsBuyer
	default:
		return RoleUndefined
	}
}

func (r Role) String() string {
	switch r {
	case RoleMakerAsBuyer:
		return "MAKER_AS_BUYER"
	case RoleMakerAsSeller:
		return "MAKER_AS_SELLER"
	case RoleTakerAsBuyer:
		return "TAKER_AS_BUYER"
	case RoleTakerAsSeller:
		return "TAKER_AS_SELLER"
	default:
		return "UNDEFINED"
	}
}
