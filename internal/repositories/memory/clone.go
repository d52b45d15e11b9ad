package memory

import "github.com/changerplanet/WebWaka2-sub010/internal/domain"

func cloneProduct(p domain.Product) domain.Product {
	p.CategoryIDs = append([]string(nil), p.CategoryIDs...)
	if p.Channels != nil {
		channels := make(map[string]domain.ChannelInventory, len(p.Channels))
		for k, v := range p.Channels {
			channels[k] = v
		}
		p.Channels = channels
	}
	return p
}

func cloneCart(c domain.Cart) domain.Cart {
	if c.Items != nil {
		items := make([]domain.CartItem, len(c.Items))
		for i, item := range c.Items {
			item.CategoryIDs = append([]string(nil), item.CategoryIDs...)
			items[i] = item
		}
		c.Items = items
	}
	c.CouponCodes = append([]string(nil), c.CouponCodes...)
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	if o.BillingAddress != nil {
		addr := *o.BillingAddress
		o.BillingAddress = &addr
	}
	o.AppliedPromotions = append([]domain.AppliedPromotion(nil), o.AppliedPromotions...)
	if o.SubOrders != nil {
		subs := make([]domain.SubOrder, len(o.SubOrders))
		for i, sub := range o.SubOrders {
			sub.Items = append([]domain.OrderLineItem(nil), sub.Items...)
			subs[i] = sub
		}
		o.SubOrders = subs
	}
	return o
}
