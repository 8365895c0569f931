package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultProducts возвращает стартовый каталог витрины (новый срез на каждый вызов).
func DefaultProducts() []domain.Product {
	return []domain.Product{
		{
			ID:          1,
			Name:        "Minimalist Wireless Earbuds",
			Price:       decimal.RequireFromString("129.99"),
			Description: "Premium sound quality with active noise cancellation. 24-hour battery life.",
			Category:    "audio",
			Image:       "https://images.unsplash.com/photo-1590658268037-6bf12165a8df?w=500&h=500&fit=crop",
			Stock:       45,
			Rating:      4.8,
		},
		{
			ID:          2,
			Name:        "Smart Watch Pro",
			Price:       decimal.RequireFromString("399.99"),
			Description: "Advanced health tracking with ECG monitoring and always-on display.",
			Category:    "wearables",
			Image:       "https://images.unsplash.com/photo-1523275335684-37898b6baf30?w=500&h=500&fit=crop",
			Stock:       28,
			Rating:      4.6,
		},
		{
			ID:          3,
			Name:        "Organic Cotton T-Shirt",
			Price:       decimal.RequireFromString("45.00"),
			Description: "Sustainably sourced, ultra-soft fabric. Perfect everyday essential.",
			Category:    "apparel",
			Image:       "https://images.unsplash.com/photo-1521572163474-6864f9cf17ab?w=500&h=500&fit=crop",
			Stock:       120,
			Rating:      4.9,
		},
		{
			ID:          4,
			Name:        "Ceramic Coffee Mug",
			Price:       decimal.RequireFromString("24.99"),
			Description: "Handcrafted artisan mug with double-wall insulation.",
			Category:    "home",
			Image:       "https://images.unsplash.com/photo-1514228742587-6b1558fcca3d?w=500&h=500&fit=crop",
			Stock:       85,
			Rating:      4.7,
		},
		{
			ID:          5,
			Name:        "Leather Laptop Bag",
			Price:       decimal.RequireFromString("189.99"),
			Description: "Premium full-grain leather with padded compartments.",
			Category:    "accessories",
			Image:       "https://images.unsplash.com/photo-1553062407-98eeb64c6a62?w=500&h=500&fit=crop",
			Stock:       32,
			Rating:      4.8,
		},
		{
			ID:          6,
			Name:        "Portable Speaker",
			Price:       decimal.RequireFromString("89.99"),
			Description: "360° sound with waterproof design. 12-hour playtime.",
			Category:    "audio",
			Image:       "https://images.unsplash.com/photo-1608043152269-423dbba4e7e1?w=500&h=500&fit=crop",
			Stock:       64,
			Rating:      4.5,
		},
		{
			ID:          7,
			Name:        "Reading Glasses",
			Price:       decimal.RequireFromString("79.99"),
			Description: "Blue light blocking lenses with titanium frame.",
			Category:    "accessories",
			Image:       "https://images.unsplash.com/photo-1473496169904-658ba7c44d8a?w=500&h=500&fit=crop",
			Stock:       91,
			Rating:      4.6,
		},
		{
			ID:          8,
			Name:        "Yoga Mat Pro",
			Price:       decimal.RequireFromString("68.00"),
			Description: "Non-slip eco-friendly material with alignment markers.",
			Category:    "fitness",
			Image:       "https://images.unsplash.com/photo-1601925260368-ae2f83cf8b7f?w=500&h=500&fit=crop",
			Stock:       55,
			Rating:      4.9,
		},
		{
			ID:          9,
			Name:        "Stainless Steel Water Bottle",
			Price:       decimal.RequireFromString("34.99"),
			Description: "Vacuum insulated, keeps drinks cold for 24 hours.",
			Category:    "fitness",
			Image:       "https://images.unsplash.com/photo-1602143407151-7111542de6e8?w=500&h=500&fit=crop",
			Stock:       150,
			Rating:      4.8,
		},
		{
			ID:          10,
			Name:        "Desk Organizer Set",
			Price:       decimal.RequireFromString("49.99"),
			Description: "Bamboo construction with modular design.",
			Category:    "home",
			Image:       "https://images.unsplash.com/photo-1611269154421-4e27233ac5c7?w=500&h=500&fit=crop",
			Stock:       72,
			Rating:      4.7,
		},
		{
			ID:          11,
			Name:        "Wireless Charger",
			Price:       decimal.RequireFromString("39.99"),
			Description: "Fast charging with auto-alignment technology.",
			Category:    "accessories",
			Image:       "https://images.unsplash.com/photo-1591290619762-d2c9e0d8a8e6?w=500&h=500&fit=crop",
			Stock:       103,
			Rating:      4.5,
		},
		{
			ID:          12,
			Name:        "Plant-Based Protein Powder",
			Price:       decimal.RequireFromString("54.99"),
			Description: "Organic pea protein with natural vanilla flavor.",
			Category:    "fitness",
			Image:       "https://images.unsplash.com/photo-1579722820308-d74e571900a9?w=500&h=500&fit=crop",
			Stock:       88,
			Rating:      4.6,
		},
	}
}
