package dataset

import (
	"math"
	"math/rand/v2"
	"time"
)

type Product struct {
	ProductID     int64     `parquet:"product_id"`
	ProductName   string    `parquet:"product_name"`
	Category      string    `parquet:"category"`
	Price         float64   `parquet:"price"`
	StockQuantity int32     `parquet:"stock_quantity"`
	CreatedAt     time.Time `parquet:"created_at,timestamp(millisecond)"`
}

type Customer struct {
	CustomerID   int64     `parquet:"customer_id"`
	CustomerName string    `parquet:"customer_name"`
	Email        string    `parquet:"email"`
	City         string    `parquet:"city"`
	State        string    `parquet:"state"`
	CreatedAt    time.Time `parquet:"created_at,timestamp(millisecond)"`
}

type Sale struct {
	SaleID        int64     `parquet:"sale_id"`
	CustomerID    int64     `parquet:"customer_id"`
	ProductID     int64     `parquet:"product_id"`
	SaleDate      time.Time `parquet:"sale_date,timestamp(millisecond)"`
	Quantity      int32     `parquet:"quantity"`
	TotalAmount   float64   `parquet:"total_amount"`
	PaymentMethod string    `parquet:"payment_method"`
}

// Retail is the sample products/customers/sales dataset.
type Retail struct {
	Products  []Product
	Customers []Customer
	Sales     []Sale
}

const (
	TableProducts  = "products"
	TableCustomers = "customers"
	TableSales     = "sales"
)

var sampleProducts = []struct {
	name     string
	category string
	price    float64
	stock    int32
}{
	{"Laptop Pro", "Electronics", 1299.99, 50},
	{"Smartphone X", "Electronics", 899.99, 100},
	{"Wireless Earbuds", "Electronics", 149.99, 200},
	{"Office Chair", "Furniture", 299.99, 30},
	{"Desk Lamp", "Furniture", 49.99, 75},
	{"Coffee Maker", "Appliances", 79.99, 40},
	{"Blender", "Appliances", 59.99, 60},
	{"Yoga Mat", "Sports", 29.99, 150},
	{"Dumbbells Set", "Sports", 89.99, 45},
	{"Running Shoes", "Sports", 119.99, 80},
}

var sampleCustomers = []struct {
	name  string
	email string
	city  string
	state string
}{
	{"John Smith", "john.smith@email.com", "New York", "NY"},
	{"Emma Johnson", "emma.j@email.com", "Los Angeles", "CA"},
	{"Michael Brown", "m.brown@email.com", "Chicago", "IL"},
	{"Sarah Davis", "sarah.d@email.com", "Houston", "TX"},
	{"David Wilson", "d.wilson@email.com", "Phoenix", "AZ"},
	{"Lisa Anderson", "l.anderson@email.com", "Philadelphia", "PA"},
	{"James Taylor", "j.taylor@email.com", "San Antonio", "TX"},
	{"Jennifer Martinez", "j.martinez@email.com", "San Diego", "CA"},
	{"Robert Garcia", "r.garcia@email.com", "Dallas", "TX"},
	{"Patricia Robinson", "p.robinson@email.com", "San Jose", "CA"},
}

var paymentMethods = []string{"Credit Card", "Debit Card", "PayPal", "Cash"}

// Generate builds the sample dataset. The same seed, count and now always
// produce the same rows. Sales fall within the year before now.
func Generate(seed int64, salesCount int, now time.Time) Retail {
	now = now.UTC().Truncate(time.Millisecond)
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))

	retail := Retail{
		Products:  make([]Product, 0, len(sampleProducts)),
		Customers: make([]Customer, 0, len(sampleCustomers)),
		Sales:     make([]Sale, 0, max(salesCount, 0)),
	}
	for i, item := range sampleProducts {
		retail.Products = append(retail.Products, Product{
			ProductID:     int64(i + 1),
			ProductName:   item.name,
			Category:      item.category,
			Price:         item.price,
			StockQuantity: item.stock,
			CreatedAt:     now,
		})
	}
	for i, item := range sampleCustomers {
		retail.Customers = append(retail.Customers, Customer{
			CustomerID:   int64(i + 1),
			CustomerName: item.name,
			Email:        item.email,
			City:         item.city,
			State:        item.state,
			CreatedAt:    now,
		})
	}

	start := now.AddDate(-1, 0, 0)
	for i := 0; i < salesCount; i++ {
		product := retail.Products[rng.IntN(len(retail.Products))]
		customer := retail.Customers[rng.IntN(len(retail.Customers))]
		quantity := int32(rng.IntN(5) + 1)
		saleDate := start.
			Add(time.Duration(rng.IntN(366)) * 24 * time.Hour).
			Add(time.Duration(rng.IntN(24)) * time.Hour).
			Add(time.Duration(rng.IntN(60)) * time.Minute)
		retail.Sales = append(retail.Sales, Sale{
			SaleID:        int64(i + 1),
			CustomerID:    customer.CustomerID,
			ProductID:     product.ProductID,
			SaleDate:      saleDate,
			Quantity:      quantity,
			TotalAmount:   math.Round(product.Price*float64(quantity)*100) / 100,
			PaymentMethod: paymentMethods[rng.IntN(len(paymentMethods))],
		})
	}
	return retail
}
