package handlers

import (
	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

type cartItemPayload struct {
	ID          string   `json:"id"`
	VendorID    string   `json:"vendorId"`
	ProductID   string   `json:"productId"`
	VariantID   string   `json:"variantId,omitempty"`
	ProductName string   `json:"productName"`
	CategoryIDs []string `json:"categoryIds,omitempty"`
	Quantity    int64    `json:"quantity"`
	UnitPrice   string   `json:"unitPrice"`
	LineTotal   string   `json:"lineTotal"`
}

type cartPayload struct {
	ID          string            `json:"id"`
	Key         string            `json:"key"`
	CustomerID  string            `json:"customerId,omitempty"`
	Channel     string            `json:"channel"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Version     int64             `json:"version"`
	Items       []cartItemPayload `json:"items"`
	CouponCodes []string          `json:"couponCodes"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
}

func buildCartPayload(cart domain.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, cartItemPayload{
			ID:          it.ID,
			VendorID:    it.VendorID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			CategoryIDs: it.CategoryIDs,
			Quantity:    it.Quantity,
			UnitPrice:   formatMoney(it.UnitPrice),
			LineTotal:   formatMoney(domain.RoundMoney(it.LineTotal())),
		})
	}
	coupons := cart.CouponCodes
	if coupons == nil {
		coupons = []string{}
	}
	return cartPayload{
		ID:          cart.ID,
		Key:         cart.Key,
		CustomerID:  cart.CustomerID,
		Channel:     cart.Channel,
		Currency:    cart.Currency,
		Status:      string(cart.Status),
		Version:     cart.Version,
		Items:       items,
		CouponCodes: coupons,
		UpdatedAt:   formatTime(cart.UpdatedAt),
	}
}

type appliedPromotionPayload struct {
	PromotionID      string   `json:"promotionId"`
	Code             string   `json:"code,omitempty"`
	Name             string   `json:"name,omitempty"`
	Type             string   `json:"type"`
	Amount           string   `json:"amount"`
	FreeShipping     bool     `json:"freeShipping,omitempty"`
	ShippingDiscount string   `json:"shippingDiscount,omitempty"`
	EligibleItemIDs  []string `json:"eligibleItemIds,omitempty"`
}

func buildAppliedPromotions(applied []domain.AppliedPromotion) []appliedPromotionPayload {
	out := make([]appliedPromotionPayload, 0, len(applied))
	for _, a := range applied {
		p := appliedPromotionPayload{
			PromotionID:     a.PromotionID,
			Code:            a.Code,
			Name:            a.Name,
			Type:            string(a.Type),
			Amount:          formatMoney(a.Amount),
			FreeShipping:    a.FreeShipping,
			EligibleItemIDs: a.EligibleItemIDs,
		}
		if a.FreeShipping {
			p.ShippingDiscount = formatMoney(a.ShippingDiscount)
		}
		out = append(out, p)
	}
	return out
}

type vendorQuotePayload struct {
	VendorID   string `json:"vendorId"`
	VendorName string `json:"vendorName"`
	Items      int    `json:"items"`
	Subtotal   string `json:"subtotal"`
	Shipping   string `json:"shipping"`
}

type quotePayload struct {
	CartID        string                    `json:"cartId"`
	Currency      string                    `json:"currency"`
	Subtotal      string                    `json:"subtotal"`
	DiscountTotal string                    `json:"discountTotal"`
	ShippingTotal string                    `json:"shippingTotal"`
	TaxTotal      string                    `json:"taxTotal"`
	GrandTotal    string                    `json:"grandTotal"`
	FreeShipping  bool                      `json:"freeShipping"`
	Applied       []appliedPromotionPayload `json:"appliedPromotions"`
	CouponErrors  []services.CouponError    `json:"couponErrors"`
	Vendors       []vendorQuotePayload      `json:"vendors"`
}

func buildQuotePayload(q services.Quote) quotePayload {
	vendors := make([]vendorQuotePayload, 0, len(q.Vendors))
	for _, v := range q.Vendors {
		vendors = append(vendors, vendorQuotePayload{
			VendorID:   v.VendorID,
			VendorName: v.VendorName,
			Items:      v.Items,
			Subtotal:   formatMoney(v.Subtotal),
			Shipping:   formatMoney(v.Shipping),
		})
	}
	couponErrors := q.CouponErrors
	if couponErrors == nil {
		couponErrors = []services.CouponError{}
	}
	return quotePayload{
		CartID:        q.CartID,
		Currency:      q.Currency,
		Subtotal:      formatMoney(q.Subtotal),
		DiscountTotal: formatMoney(q.DiscountTotal),
		ShippingTotal: formatMoney(q.ShippingTotal),
		TaxTotal:      formatMoney(q.TaxTotal),
		GrandTotal:    formatMoney(q.GrandTotal),
		FreeShipping:  q.FreeShipping,
		Applied:       buildAppliedPromotions(q.Applied),
		CouponErrors:  couponErrors,
		Vendors:       vendors,
	}
}

type addressPayload struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		Recipient:  a.Recipient,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func buildAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Recipient:  a.Recipient,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type customerPayload struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type orderLinePayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId,omitempty"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
}

type subOrderPayload struct {
	ID                 string             `json:"id"`
	Number             string             `json:"number"`
	VendorID           string             `json:"vendorId"`
	Status             string             `json:"status"`
	Subtotal           string             `json:"subtotal"`
	Items              []orderLinePayload `json:"items"`
	CancellationReason string             `json:"cancellationReason,omitempty"`
	RefundReason       string             `json:"refundReason,omitempty"`
	ShippedAt          string             `json:"shippedAt,omitempty"`
	DeliveredAt        string             `json:"deliveredAt,omitempty"`
}

type orderPaymentPayload struct {
	Provider         string `json:"provider,omitempty"`
	Reference        string `json:"reference,omitempty"`
	TransactionID    string `json:"transactionId,omitempty"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
}

type orderPayload struct {
	ID                 string                    `json:"id"`
	OrderNumber        string                    `json:"orderNumber"`
	Status             string                    `json:"status"`
	PaymentStatus      string                    `json:"paymentStatus"`
	PaymentMethod      string                    `json:"paymentMethod"`
	Currency           string                    `json:"currency"`
	Channel            string                    `json:"channel,omitempty"`
	Customer           customerPayload           `json:"customer"`
	ShippingAddress    addressPayload            `json:"shippingAddress"`
	BillingAddress     *addressPayload           `json:"billingAddress,omitempty"`
	Subtotal           string                    `json:"subtotal"`
	DiscountTotal      string                    `json:"discountTotal"`
	ShippingTotal      string                    `json:"shippingTotal"`
	TaxTotal           string                    `json:"taxTotal"`
	GrandTotal         string                    `json:"grandTotal"`
	AppliedPromotions  []appliedPromotionPayload `json:"appliedPromotions"`
	Payment            *orderPaymentPayload      `json:"payment,omitempty"`
	SubOrders          []subOrderPayload         `json:"subOrders"`
	CancellationReason string                    `json:"cancellationReason,omitempty"`
	RefundReason       string                    `json:"refundReason,omitempty"`
	PaidAt             string                    `json:"paidAt,omitempty"`
	CancelledAt        string                    `json:"cancelledAt,omitempty"`
	RefundedAt         string                    `json:"refundedAt,omitempty"`
	Version            int64                     `json:"version"`
	CreatedAt          string                    `json:"createdAt"`
	UpdatedAt          string                    `json:"updatedAt,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	subs := make([]subOrderPayload, 0, len(order.SubOrders))
	for _, sub := range order.SubOrders {
		lines := make([]orderLinePayload, 0, len(sub.Items))
		for _, li := range sub.Items {
			lines = append(lines, orderLinePayload{
				ID:          li.ID,
				ProductID:   li.ProductID,
				VariantID:   li.VariantID,
				ProductName: li.ProductName,
				Quantity:    li.Quantity,
				UnitPrice:   formatMoney(li.UnitPrice),
				LineTotal:   formatMoney(li.LineTotal),
			})
		}
		subs = append(subs, subOrderPayload{
			ID:                 sub.ID,
			Number:             sub.Number,
			VendorID:           sub.VendorID,
			Status:             string(sub.Status),
			Subtotal:           formatMoney(sub.Subtotal),
			Items:              lines,
			CancellationReason: sub.CancellationReason,
			RefundReason:       sub.RefundReason,
			ShippedAt:          formatTimePtr(sub.ShippedAt),
			DeliveredAt:        formatTimePtr(sub.DeliveredAt),
		})
	}

	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      order.Currency,
		Channel:       order.Channel,
		Customer: customerPayload{
			ID:    order.Customer.ID,
			Email: order.Customer.Email,
			Name:  order.Customer.Name,
			Phone: order.Customer.Phone,
		},
		ShippingAddress:    buildAddressPayload(order.ShippingAddress),
		Subtotal:           formatMoney(order.Subtotal),
		DiscountTotal:      formatMoney(order.DiscountTotal),
		ShippingTotal:      formatMoney(order.ShippingTotal),
		TaxTotal:           formatMoney(order.TaxTotal),
		GrandTotal:         formatMoney(order.GrandTotal),
		AppliedPromotions:  buildAppliedPromotions(order.AppliedPromotions),
		SubOrders:          subs,
		CancellationReason: order.CancellationReason,
		RefundReason:       order.RefundReason,
		PaidAt:             formatTimePtr(order.PaidAt),
		CancelledAt:        formatTimePtr(order.CancelledAt),
		RefundedAt:         formatTimePtr(order.RefundedAt),
		Version:            order.Version,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	if order.BillingAddress != nil {
		billing := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &billing
	}
	if order.Payment.Provider != "" {
		payload.Payment = &orderPaymentPayload{
			Provider:         order.Payment.Provider,
			Reference:        order.Payment.Reference,
			TransactionID:    order.Payment.TransactionID,
			AuthorizationURL: order.Payment.AuthorizationURL,
		}
	}
	return payload
}
