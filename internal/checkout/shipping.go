package checkout

import ordersdomain "github.com/fjod/craft_market/internal/orders/domain"

// ShippingInfo is held only for the duration of a checkout and handed to
// order placement with the captured payment.
type ShippingInfo = ordersdomain.ShippingAddress
