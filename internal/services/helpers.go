package services

import (
	"maps"

	"golang.org/x/text/language"
)

func orderTemplateData(order Order) map[string]any {
	data := map[string]any{
		"orderId":        order.ID,
		"customerName":   order.CustomerName,
		"status":         string(order.Status),
		"paymentStatus":  string(order.PaymentStatus),
		"total":          order.Total.String(),
		"totalFormatted": order.Total.Format(language.English),
		"currency":       order.Total.Currency,
		"orderDate":      order.OrderDate,
		"shippingMethod": string(order.ShippingMethod),
	}
	if order.ReceiptURL != nil {
		data["receiptUrl"] = *order.ReceiptURL
	}
	if order.CheckoutSessionURL != nil {
		data["checkoutUrl"] = *order.CheckoutSessionURL
	}
	return data
}

func lineItemData(items []OrderLineItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"productId": item.ProductID,
			"name":      item.ProductName,
			"quantity":  item.Quantity,
			"unitPrice": item.UnitPrice.Format(language.English),
			"lineTotal": item.LineTotal().Format(language.English),
		})
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
