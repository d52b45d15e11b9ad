package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

// Money is stored as decimal strings so no precision is lost to float64 fields.

type moneyDecoder struct{ err error }

func (m *moneyDecoder) parse(field, raw string) decimal.Decimal {
	v, err := domain.ParseMoney(raw)
	if err != nil && m.err == nil {
		m.err = fmt.Errorf("decode %s: %w", field, err)
	}
	return v
}

func (m *moneyDecoder) parseOptional(field string, raw *string) *decimal.Decimal {
	if raw == nil {
		return nil
	}
	v := m.parse(field, *raw)
	return &v
}

func optionalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

type tenantDocument struct {
	Slug     string          `firestore:"slug"`
	Name     string          `firestore:"name"`
	Currency string          `firestore:"currency"`
	Locale   string          `firestore:"locale"`
	Demo     bool            `firestore:"demo"`
	TaxRate  string          `firestore:"taxRate"`
	Features map[string]bool `firestore:"features,omitempty"`
}

func (d tenantDocument) toDomain(id string) (domain.Tenant, error) {
	var m moneyDecoder
	t := domain.Tenant{
		ID:       id,
		Slug:     d.Slug,
		Name:     d.Name,
		Currency: d.Currency,
		Locale:   d.Locale,
		Demo:     d.Demo,
		TaxRate:  m.parse("taxRate", d.TaxRate),
		Features: d.Features,
	}
	return t, m.err
}

type vendorDocument struct {
	Name        string `firestore:"name"`
	Status      string `firestore:"status"`
	Active      bool   `firestore:"active"`
	ShippingFee string `firestore:"shippingFee"`
}

func (d vendorDocument) toDomain(tenantID, id string) (domain.Vendor, error) {
	var m moneyDecoder
	v := domain.Vendor{
		ID:          id,
		TenantID:    tenantID,
		Name:        d.Name,
		Status:      domain.VendorStatus(d.Status),
		Active:      d.Active,
		ShippingFee: m.parse("shippingFee", d.ShippingFee),
	}
	return v, m.err
}

type channelDocument struct {
	Mode              string `firestore:"mode"`
	AllocatedQuantity int64  `firestore:"allocatedQuantity"`
}

type productDocument struct {
	VendorID       string                     `firestore:"vendorId"`
	Name           string                     `firestore:"name"`
	CategoryIDs    []string                   `firestore:"categoryIds,omitempty"`
	Price          string                     `firestore:"price"`
	Active         bool                       `firestore:"active"`
	TrackInventory bool                       `firestore:"trackInventory"`
	Channels       map[string]channelDocument `firestore:"channels,omitempty"`
}

func (d productDocument) toDomain(tenantID, id string) (domain.Product, error) {
	var m moneyDecoder
	p := domain.Product{
		ID:             id,
		TenantID:       tenantID,
		VendorID:       d.VendorID,
		Name:           d.Name,
		CategoryIDs:    d.CategoryIDs,
		Price:          m.parse("price", d.Price),
		Active:         d.Active,
		TrackInventory: d.TrackInventory,
	}
	if len(d.Channels) > 0 {
		p.Channels = make(map[string]domain.ChannelInventory, len(d.Channels))
		for name, ch := range d.Channels {
			p.Channels[name] = domain.ChannelInventory{Mode: domain.InventoryMode(ch.Mode), AllocatedQuantity: ch.AllocatedQuantity}
		}
	}
	return p, m.err
}

func channelDocuments(channels map[string]domain.ChannelInventory) map[string]channelDocument {
	out := make(map[string]channelDocument, len(channels))
	for name, ch := range channels {
		out[name] = channelDocument{Mode: string(ch.Mode), AllocatedQuantity: ch.AllocatedQuantity}
	}
	return out
}

type levelDocument struct {
	ProductID  string    `firestore:"productId"`
	VariantID  string    `firestore:"variantId"`
	LocationID string    `firestore:"locationId"`
	Available  int64     `firestore:"available"`
	Reserved   int64     `firestore:"reserved"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d levelDocument) toDomain() domain.InventoryLevel {
	return domain.InventoryLevel(d)
}

type inventoryEventDocument struct {
	Key         string    `firestore:"key"`
	ProductID   string    `firestore:"productId"`
	VariantID   string    `firestore:"variantId"`
	Quantity    int64     `firestore:"quantity"`
	Type        string    `firestore:"type"`
	ReferenceID string    `firestore:"referenceId"`
	Channel     string    `firestore:"channel,omitempty"`
	OccurredAt  time.Time `firestore:"occurredAt"`
}

type cartItemDocument struct {
	ID          string    `firestore:"id"`
	VendorID    string    `firestore:"vendorId"`
	ProductID   string    `firestore:"productId"`
	VariantID   string    `firestore:"variantId,omitempty"`
	ProductName string    `firestore:"productName"`
	CategoryIDs []string  `firestore:"categoryIds,omitempty"`
	Quantity    int64     `firestore:"quantity"`
	UnitPrice   string    `firestore:"unitPrice"`
	AddedAt     time.Time `firestore:"addedAt"`
}

type cartDocument struct {
	Key              string             `firestore:"key"`
	CustomerID       string             `firestore:"customerId,omitempty"`
	Channel          string             `firestore:"channel,omitempty"`
	Currency         string             `firestore:"currency"`
	Status           string             `firestore:"status"`
	Version          int64              `firestore:"version"`
	Items            []cartItemDocument `firestore:"items"`
	CouponCodes      []string           `firestore:"couponCodes"`
	ConvertedOrderID string             `firestore:"convertedOrderId"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	UpdatedAt        time.Time          `firestore:"updatedAt"`
}

func toCartDocument(c domain.Cart) cartDocument {
	doc := cartDocument{
		Key:              c.Key,
		CustomerID:       c.CustomerID,
		Channel:          c.Channel,
		Currency:         c.Currency,
		Status:           string(c.Status),
		Version:          c.Version,
		Items:            make([]cartItemDocument, 0, len(c.Items)),
		CouponCodes:      append([]string{}, c.CouponCodes...),
		ConvertedOrderID: c.ConvertedOrderID,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	for _, item := range c.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:          item.ID,
			VendorID:    item.VendorID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			CategoryIDs: item.CategoryIDs,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			AddedAt:     item.AddedAt,
		})
	}
	return doc
}

func (d cartDocument) toDomain(tenantID, id string) (domain.Cart, error) {
	var m moneyDecoder
	c := domain.Cart{
		ID:               id,
		TenantID:         tenantID,
		Key:              d.Key,
		CustomerID:       d.CustomerID,
		Channel:          d.Channel,
		Currency:         d.Currency,
		Status:           domain.CartStatus(d.Status),
		Version:          d.Version,
		ConvertedOrderID: d.ConvertedOrderID,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if len(d.CouponCodes) > 0 {
		c.CouponCodes = d.CouponCodes
	}
	for _, item := range d.Items {
		c.Items = append(c.Items, domain.CartItem{
			ID:          item.ID,
			VendorID:    item.VendorID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			CategoryIDs: item.CategoryIDs,
			Quantity:    item.Quantity,
			UnitPrice:   m.parse("unitPrice", item.UnitPrice),
			AddedAt:     item.AddedAt,
		})
	}
	return c, m.err
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type customerDocument struct {
	ID    string `firestore:"id,omitempty"`
	Email string `firestore:"email"`
	Name  string `firestore:"name"`
	Phone string `firestore:"phone,omitempty"`
}

type paymentDocument struct {
	PartnerID        string `firestore:"partnerId,omitempty"`
	Provider         string `firestore:"provider,omitempty"`
	Reference        string `firestore:"reference,omitempty"`
	TransactionID    string `firestore:"transactionId,omitempty"`
	AuthorizationURL string `firestore:"authorizationUrl,omitempty"`
}

type timestampsDocument struct {
	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
	ShippedAt   *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
	RefundedAt  *time.Time `firestore:"refundedAt,omitempty"`
}

type appliedPromotionDocument struct {
	PromotionID      string   `firestore:"promotionId"`
	Code             string   `firestore:"code,omitempty"`
	Name             string   `firestore:"name"`
	Type             string   `firestore:"type"`
	Amount           string   `firestore:"amount"`
	FreeShipping     bool     `firestore:"freeShipping"`
	ShippingDiscount string   `firestore:"shippingDiscount"`
	EligibleItemIDs  []string `firestore:"eligibleItemIds,omitempty"`
}

type orderDocument struct {
	TenantID            string                     `firestore:"tenantId"`
	OrderNumber         string                     `firestore:"orderNumber"`
	CartID              string                     `firestore:"cartId"`
	Channel             string                     `firestore:"channel,omitempty"`
	Customer            customerDocument           `firestore:"customer"`
	ShippingAddress     addressDocument            `firestore:"shippingAddress"`
	BillingAddress      *addressDocument           `firestore:"billingAddress,omitempty"`
	PaymentMethod       string                     `firestore:"paymentMethod"`
	Currency            string                     `firestore:"currency"`
	Subtotal            string                     `firestore:"subtotal"`
	DiscountTotal       string                     `firestore:"discountTotal"`
	ShippingTotal       string                     `firestore:"shippingTotal"`
	TaxTotal            string                     `firestore:"taxTotal"`
	GrandTotal          string                     `firestore:"grandTotal"`
	AppliedPromotions   []appliedPromotionDocument `firestore:"appliedPromotions,omitempty"`
	Status              string                     `firestore:"status"`
	PaymentStatus       string                     `firestore:"paymentStatus"`
	Payment             paymentDocument            `firestore:"payment"`
	InventoryDeductedAt *time.Time                 `firestore:"inventoryDeductedAt,omitempty"`
	Timestamps          timestampsDocument         `firestore:"timestamps"`
	CancellationReason  string                     `firestore:"cancellationReason,omitempty"`
	RefundReason        string                     `firestore:"refundReason,omitempty"`
	SubOrderIDs         []string                   `firestore:"subOrderIds"`
	Version             int64                      `firestore:"version"`
	CreatedAt           time.Time                  `firestore:"createdAt"`
	UpdatedAt           time.Time                  `firestore:"updatedAt"`
}

type lineItemDocument struct {
	ID          string `firestore:"id"`
	ProductID   string `firestore:"productId"`
	VariantID   string `firestore:"variantId,omitempty"`
	ProductName string `firestore:"productName"`
	Quantity    int64  `firestore:"quantity"`
	UnitPrice   string `firestore:"unitPrice"`
	LineTotal   string `firestore:"lineTotal"`
}

type subOrderDocument struct {
	VendorID           string             `firestore:"vendorId"`
	Number             string             `firestore:"number"`
	Items              []lineItemDocument `firestore:"items"`
	Subtotal           string             `firestore:"subtotal"`
	Status             string             `firestore:"status"`
	Timestamps         timestampsDocument `firestore:"timestamps"`
	CancellationReason string             `firestore:"cancellationReason,omitempty"`
	RefundReason       string             `firestore:"refundReason,omitempty"`
	CreatedAt          time.Time          `firestore:"createdAt"`
	UpdatedAt          time.Time          `firestore:"updatedAt"`
}

func toOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		TenantID:            o.TenantID,
		OrderNumber:         o.OrderNumber,
		CartID:              o.CartID,
		Channel:             o.Channel,
		Customer:            customerDocument(o.Customer),
		ShippingAddress:     addressDocument(o.ShippingAddress),
		PaymentMethod:       string(o.PaymentMethod),
		Currency:            o.Currency,
		Subtotal:            o.Subtotal.String(),
		DiscountTotal:       o.DiscountTotal.String(),
		ShippingTotal:       o.ShippingTotal.String(),
		TaxTotal:            o.TaxTotal.String(),
		GrandTotal:          o.GrandTotal.String(),
		Status:              string(o.Status),
		PaymentStatus:       string(o.PaymentStatus),
		Payment:             paymentDocument(o.Payment),
		InventoryDeductedAt: o.InventoryDeductedAt,
		Timestamps:          timestampsDocument(o.StatusTimestamps),
		CancellationReason:  o.CancellationReason,
		RefundReason:        o.RefundReason,
		Version:             o.Version,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
	if o.BillingAddress != nil {
		billing := addressDocument(*o.BillingAddress)
		doc.BillingAddress = &billing
	}
	for _, p := range o.AppliedPromotions {
		doc.AppliedPromotions = append(doc.AppliedPromotions, appliedPromotionDocument{
			PromotionID:      p.PromotionID,
			Code:             p.Code,
			Name:             p.Name,
			Type:             string(p.Type),
			Amount:           p.Amount.String(),
			FreeShipping:     p.FreeShipping,
			ShippingDiscount: p.ShippingDiscount.String(),
			EligibleItemIDs:  p.EligibleItemIDs,
		})
	}
	doc.SubOrderIDs = make([]string, 0, len(o.SubOrders))
	for _, sub := range o.SubOrders {
		doc.SubOrderIDs = append(doc.SubOrderIDs, sub.ID)
	}
	return doc
}

func toSubOrderDocument(s domain.SubOrder) subOrderDocument {
	doc := subOrderDocument{
		VendorID:           s.VendorID,
		Number:             s.Number,
		Items:              make([]lineItemDocument, 0, len(s.Items)),
		Subtotal:           s.Subtotal.String(),
		Status:             string(s.Status),
		Timestamps:         timestampsDocument(s.StatusTimestamps),
		CancellationReason: s.CancellationReason,
		RefundReason:       s.RefundReason,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	for _, item := range s.Items {
		doc.Items = append(doc.Items, lineItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			LineTotal:   item.LineTotal.String(),
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string, subs []domain.SubOrder) (domain.Order, error) {
	var m moneyDecoder
	o := domain.Order{
		ID:                  id,
		TenantID:            d.TenantID,
		OrderNumber:         d.OrderNumber,
		CartID:              d.CartID,
		Channel:             d.Channel,
		Customer:            domain.Customer(d.Customer),
		ShippingAddress:     domain.Address(d.ShippingAddress),
		PaymentMethod:       domain.PaymentMethod(d.PaymentMethod),
		Currency:            d.Currency,
		Subtotal:            m.parse("subtotal", d.Subtotal),
		DiscountTotal:       m.parse("discountTotal", d.DiscountTotal),
		ShippingTotal:       m.parse("shippingTotal", d.ShippingTotal),
		TaxTotal:            m.parse("taxTotal", d.TaxTotal),
		GrandTotal:          m.parse("grandTotal", d.GrandTotal),
		Status:              domain.OrderStatus(d.Status),
		PaymentStatus:       domain.PaymentStatus(d.PaymentStatus),
		Payment:             domain.OrderPayment(d.Payment),
		InventoryDeductedAt: d.InventoryDeductedAt,
		SubOrders:           subs,
		StatusTimestamps:    domain.StatusTimestamps(d.Timestamps),
		CancellationReason:  d.CancellationReason,
		RefundReason:        d.RefundReason,
		Version:             d.Version,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.BillingAddress != nil {
		billing := domain.Address(*d.BillingAddress)
		o.BillingAddress = &billing
	}
	for _, p := range d.AppliedPromotions {
		o.AppliedPromotions = append(o.AppliedPromotions, domain.AppliedPromotion{
			PromotionID:      p.PromotionID,
			Code:             p.Code,
			Name:             p.Name,
			Type:             domain.PromotionType(p.Type),
			Amount:           m.parse("appliedPromotions.amount", p.Amount),
			FreeShipping:     p.FreeShipping,
			ShippingDiscount: m.parse("appliedPromotions.shippingDiscount", p.ShippingDiscount),
			EligibleItemIDs:  p.EligibleItemIDs,
		})
	}
	return o, m.err
}

func (d subOrderDocument) toDomain(orderID, id string) (domain.SubOrder, error) {
	var m moneyDecoder
	s := domain.SubOrder{
		ID:                 id,
		OrderID:            orderID,
		VendorID:           d.VendorID,
		Number:             d.Number,
		Subtotal:           m.parse("subtotal", d.Subtotal),
		Status:             domain.OrderStatus(d.Status),
		StatusTimestamps:   domain.StatusTimestamps(d.Timestamps),
		CancellationReason: d.CancellationReason,
		RefundReason:       d.RefundReason,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	for _, item := range d.Items {
		s.Items = append(s.Items, domain.OrderLineItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   m.parse("unitPrice", item.UnitPrice),
			LineTotal:   m.parse("lineTotal", item.LineTotal),
		})
	}
	return s, m.err
}

type promotionDocument struct {
	VendorID            string     `firestore:"vendorId,omitempty"`
	Name                string     `firestore:"name"`
	Code                string     `firestore:"code,omitempty"`
	CodeUpper           string     `firestore:"codeUpper,omitempty"`
	Automatic           bool       `firestore:"automatic"`
	Active              bool       `firestore:"active"`
	Type                string     `firestore:"type"`
	DiscountValue       string     `firestore:"discountValue"`
	MaxDiscount         *string    `firestore:"maxDiscount,omitempty"`
	MinOrderTotal       *string    `firestore:"minOrderTotal,omitempty"`
	MinQuantity         int64      `firestore:"minQuantity"`
	ProductIDs          []string   `firestore:"productIds,omitempty"`
	CategoryIDs         []string   `firestore:"categoryIds,omitempty"`
	ExcludedProductIDs  []string   `firestore:"excludedProductIds,omitempty"`
	ExcludedCategoryIDs []string   `firestore:"excludedCategoryIds,omitempty"`
	CustomerIDs         []string   `firestore:"customerIds,omitempty"`
	FirstOrderOnly      bool       `firestore:"firstOrderOnly"`
	UsageLimit          *int64     `firestore:"usageLimit,omitempty"`
	UsageCount          int64      `firestore:"usageCount"`
	StartsAt            *time.Time `firestore:"startsAt,omitempty"`
	EndsAt              *time.Time `firestore:"endsAt,omitempty"`
	Priority            int        `firestore:"priority"`
	Stackable           bool       `firestore:"stackable"`
	BuyQuantity         int64      `firestore:"buyQuantity,omitempty"`
	GetQuantity         int64      `firestore:"getQuantity,omitempty"`
	GetDiscountPercent  string     `firestore:"getDiscountPercent,omitempty"`
}

func (d promotionDocument) toDomain(tenantID, id string) (domain.Promotion, error) {
	var m moneyDecoder
	p := domain.Promotion{
		ID:                  id,
		TenantID:            tenantID,
		VendorID:            d.VendorID,
		Name:                d.Name,
		Code:                d.Code,
		Automatic:           d.Automatic,
		Active:              d.Active,
		Type:                domain.PromotionType(d.Type),
		DiscountValue:       m.parse("discountValue", d.DiscountValue),
		MaxDiscount:         m.parseOptional("maxDiscount", d.MaxDiscount),
		MinOrderTotal:       m.parseOptional("minOrderTotal", d.MinOrderTotal),
		MinQuantity:         d.MinQuantity,
		ProductIDs:          d.ProductIDs,
		CategoryIDs:         d.CategoryIDs,
		ExcludedProductIDs:  d.ExcludedProductIDs,
		ExcludedCategoryIDs: d.ExcludedCategoryIDs,
		CustomerIDs:         d.CustomerIDs,
		FirstOrderOnly:      d.FirstOrderOnly,
		UsageLimit:          d.UsageLimit,
		UsageCount:          d.UsageCount,
		StartsAt:            d.StartsAt,
		EndsAt:              d.EndsAt,
		Priority:            d.Priority,
		Stackable:           d.Stackable,
		BuyQuantity:         d.BuyQuantity,
		GetQuantity:         d.GetQuantity,
		GetDiscountPercent:  m.parse("getDiscountPercent", d.GetDiscountPercent),
	}
	return p, m.err
}

type partnerDocument struct {
	Provider     string   `firestore:"provider"`
	AccountID    string   `firestore:"accountId"`
	Active       bool     `firestore:"active"`
	Capabilities []string `firestore:"capabilities"`
}
