package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/averno/clerk/pkg/catalog"
	"github.com/averno/clerk/pkg/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const maxSearchLimit = 10

// ShopToolNames is the fixed tool set exposed to the model
var ShopToolNames = []string{
	"product_search",
	"view_cart",
	"add_to_cart",
	"collect_user_info",
	"process_payment",
}

// RegisterShopTools registers the five shopping tools against the
// given store and catalog client.
func RegisterShopTools(registry *Registry, sessions *store.SessionStore, search *catalog.Client) error {
	defs := []Definition{
		productSearchTool(search),
		viewCartTool(sessions),
		addToCartTool(sessions),
		collectUserInfoTool(sessions),
		processPaymentTool(sessions),
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func productSearchTool(search *catalog.Client) Definition {
	return Definition{
		Name: "product_search",
		Description: "Search the product catalog. Use when the user asks about products, " +
			"categories, or wants to browse. Check productsSummary to verify the results " +
			"match the query; if totalFound is 0, tell the user nothing was found.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Search query, clear and concise", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of products to return (max 10)", Default: 10},
		},
		Handler: func(ctx context.Context, sessionID string, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)

			limit := maxSearchLimit
			if l, ok := params["limit"].(float64); ok && int(l) > 0 {
				limit = int(l)
			}
			if limit > maxSearchLimit {
				limit = maxSearchLimit
			}

			result := search.Search(ctx, query, limit)

			return map[string]interface{}{
				"items":           result.Items,
				"totalFound":      result.TotalFound,
				"productsSummary": result.Summary,
			}, nil
		},
	}
}

func viewCartTool(sessions *store.SessionStore) Definition {
	return Definition{
		Name: "view_cart",
		Description: "Display the user's shopping cart. Use \"view\" to show the cart, " +
			"\"checkout\" when the user wants to review it before paying.",
		Parameters: []Parameter{
			{Name: "action", Type: "string", Description: "Cart action to perform",
				Enum: []interface{}{"view", "checkout"}, Default: "view"},
		},
		Handler: func(ctx context.Context, sessionID string, params map[string]interface{}) (interface{}, error) {
			action, _ := params["action"].(string)
			if action == "" {
				action = "view"
			}

			cart := sessions.GetCart(ctx, sessionID)

			return map[string]interface{}{
				"showCart": true,
				"action":   action,
				"message":  fmt.Sprintf("Displaying cart (action: %s)", action),
				"items":    cart.Items,
			}, nil
		},
	}
}

func addToCartTool(sessions *store.SessionStore) Definition {
	return Definition{
		Name: "add_to_cart",
		Description: "Add a product to the user's persistent cart. Use when the user " +
			"confirms wanting a specific product. Take product_id, name and price from " +
			"product_search results.",
		Parameters: []Parameter{
			{Name: "product_id", Type: "string", Description: "Unique product identifier", Required: true},
			{Name: "name", Type: "string", Description: "Full product name", Required: true},
			{Name: "price", Type: "number", Description: "Unit price amount", Required: true},
			{Name: "currency", Type: "string", Description: "Price currency", Default: "EUR"},
			{Name: "quantity", Type: "integer", Description: "Quantity to add", Default: 1},
			{Name: "image_url", Type: "string", Description: "Main product image URL"},
		},
		Handler: func(ctx context.Context, sessionID string, params map[string]interface{}) (interface{}, error) {
			productID, _ := params["product_id"].(string)
			name, _ := params["name"].(string)
			price, priceOK := params["price"].(float64)

			if strings.TrimSpace(productID) == "" {
				return map[string]interface{}{
					"success":    false,
					"message":    "Invalid product id",
					"product_id": productID,
				}, nil
			}
			if !priceOK || price <= 0 {
				return map[string]interface{}{
					"success":    false,
					"message":    "Invalid product price",
					"product_id": productID,
				}, nil
			}

			currency, _ := params["currency"].(string)
			if currency == "" {
				currency = "EUR"
			}

			quantity := 1
			if q, ok := params["quantity"].(float64); ok && int(q) > 0 {
				quantity = int(q)
			}

			imageURL, _ := params["image_url"].(string)

			sessions.AddToCart(ctx, sessionID, store.CartItem{
				ProductID: productID,
				Name:      name,
				Price:     price,
				Currency:  currency,
				Quantity:  quantity,
				ImageURL:  imageURL,
			})

			return map[string]interface{}{
				"success":    true,
				"message":    fmt.Sprintf("Product %s (quantity: %d) added to cart", name, quantity),
				"product_id": productID,
				"quantity":   quantity,
			}, nil
		},
	}
}

func collectUserInfoTool(sessions *store.SessionStore) Definition {
	return Definition{
		Name: "collect_user_info",
		Description: "Collect and store one piece of user information needed for " +
			"checkout, such as first name or phone number.",
		Parameters: []Parameter{
			{Name: "field", Type: "string", Description: "Profile field being collected",
				Enum: []interface{}{"first_name", "phone", "email"}, Required: true},
			{Name: "value", Type: "string", Description: "The value provided by the user", Required: true},
		},
		Handler: func(ctx context.Context, sessionID string, params map[string]interface{}) (interface{}, error) {
			field, _ := params["field"].(string)
			value, _ := params["value"].(string)

			if field == "first_name" && len(value) < 2 {
				return map[string]interface{}{"success": false, "message": "First name too short"}, nil
			}
			if field == "phone" && len(value) < 8 {
				return map[string]interface{}{"success": false, "message": "Phone number too short"}, nil
			}

			sessions.SaveUserField(ctx, sessionID, field, value)

			return map[string]interface{}{
				"success": true,
				"field":   field,
				"value":   value,
				"message": fmt.Sprintf("Information collected: %s = %s", field, value),
			}, nil
		},
	}
}

func processPaymentTool(sessions *store.SessionStore) Definition {
	return Definition{
		Name: "process_payment",
		Description: "Process payment and complete the order. Requires the user's " +
			"first name and phone number. Fails when the cart is empty. Do not invoke " +
			"other cart tools after a successful payment in the same turn.",
		Parameters: []Parameter{
			{Name: "first_name", Type: "string", Description: "Customer first name", Required: true},
			{Name: "phone", Type: "string", Description: "Customer phone number", Required: true},
		},
		Handler: func(ctx context.Context, sessionID string, params map[string]interface{}) (interface{}, error) {
			firstName, _ := params["first_name"].(string)
			phone, _ := params["phone"].(string)

			sessions.SaveUserField(ctx, sessionID, "first_name", firstName)
			sessions.SaveUserField(ctx, sessionID, "phone", phone)

			cart := sessions.GetCart(ctx, sessionID)
			if len(cart.Items) == 0 {
				return map[string]interface{}{
					"success": false,
					"message": "Cart is empty.",
				}, nil
			}

			sessions.ClearCart(ctx, sessionID)

			paymentID, err := gonanoid.New()
			if err != nil {
				return nil, fmt.Errorf("failed to mint payment id: %w", err)
			}

			return map[string]interface{}{
				"success":    true,
				"message":    fmt.Sprintf("Payment confirmed for %s", firstName),
				"payment_id": fmt.Sprintf("PAY_%s_%s", strings.ToUpper(firstName), paymentID),
				"status":     "completed",
			}, nil
		},
	}
}
