package domain

const (
	RoleUser         = "USER"
	RoleAdmin        = "ADMIN"
	RoleOrderManager = "ORDER_MANAGER"
	RoleFulfillment  = "FULFILLMENT"
	RoleSupport      = "SUPPORT"
)

// Capabilities are the permission flags the order status machine consults.
type Capabilities struct {
	CanManageOrders   bool `json:"canManageOrders"`
	CanCancelOrders   bool `json:"canCancelOrders"`
	CanFulfillOrders  bool `json:"canFulfillOrders"`
	CanProcessRefunds bool `json:"canProcessRefunds"`
}

var roleCapabilities = map[string]Capabilities{
	RoleAdmin:        {CanManageOrders: true, CanCancelOrders: true, CanFulfillOrders: true, CanProcessRefunds: true},
	RoleOrderManager: {CanManageOrders: true, CanCancelOrders: true},
	RoleFulfillment:  {CanManageOrders: true, CanFulfillOrders: true},
	RoleSupport:      {CanManageOrders: true, CanCancelOrders: true, CanProcessRefunds: true},
	RoleUser:         {},
}

// KnownRole reports whether role is part of the permission table.
func KnownRole(role string) bool {
	_, ok := roleCapabilities[role]
	return ok
}

// CapabilitiesFor unions the capabilities of every role. Unknown roles grant nothing.
func CapabilitiesFor(roles []string) Capabilities {
	var c Capabilities
	for _, r := range roles {
		rc := roleCapabilities[r]
		c.CanManageOrders = c.CanManageOrders || rc.CanManageOrders
		c.CanCancelOrders = c.CanCancelOrders || rc.CanCancelOrders
		c.CanFulfillOrders = c.CanFulfillOrders || rc.CanFulfillOrders
		c.CanProcessRefunds = c.CanProcessRefunds || rc.CanProcessRefunds
	}
	return c
}

// Any reports whether at least one operator capability is held.
func (c Capabilities) Any() bool {
	return c.CanManageOrders || c.CanCancelOrders || c.CanFulfillOrders || c.CanProcessRefunds
}
