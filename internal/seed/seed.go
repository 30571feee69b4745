// Package seed imports a store catalog from YAML.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"offlinepos/internal/domain"
	"offlinepos/internal/ledger"
	"offlinepos/internal/money"
	"offlinepos/internal/repos"
	"offlinepos/internal/syncq"
	"offlinepos/internal/validate"
)

type Catalog struct {
	Tenant    string                   `yaml:"tenant"`
	Branch    string                   `yaml:"branch"`
	Products  []Product                `yaml:"products"`
	Materials []Material               `yaml:"materials"`
	Recipes   map[string][]RecipeEntry `yaml:"recipes"`
	Users     []User                   `yaml:"users"`
}

type Product struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price int64  `yaml:"price"`
	Cost  int64  `yaml:"cost"`
	Stock int64  `yaml:"stock"`
}

// Material quantities are decimals in the material's unit.
type Material struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Unit     string   `yaml:"unit"`
	Stock    float64  `yaml:"stock"`
	MinStock *float64 `yaml:"min_stock"`
}

type RecipeEntry struct {
	Material string  `yaml:"material"`
	Qty      float64 `yaml:"qty"`
}

type User struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// Summary counts what an import wrote.
type Summary struct {
	Products  int `json:"products"`
	Materials int `json:"materials"`
	Recipes   int `json:"recipes"`
	Users     int `json:"users"`
	Queued    int `json:"queued"`
}

// Load reads and validates a catalog file. Unknown fields are rejected.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if _, ok := validate.ID(c.Tenant); !ok {
		return fmt.Errorf("tenant is required")
	}
	products := map[string]bool{}
	for _, p := range c.Products {
		if _, ok := validate.ID(p.ID); !ok {
			return fmt.Errorf("product %q: invalid id", p.ID)
		}
		if _, ok := validate.Name(p.Name); !ok {
			return fmt.Errorf("product %s: name is required", p.ID)
		}
		if p.Price < 0 || p.Cost < 0 || p.Stock < 0 {
			return fmt.Errorf("product %s: price, cost and stock must not be negative", p.ID)
		}
		products[p.ID] = true
	}
	materials := map[string]bool{}
	for _, m := range c.Materials {
		if _, ok := validate.ID(m.ID); !ok {
			return fmt.Errorf("material %q: invalid id", m.ID)
		}
		if m.Unit == "" {
			return fmt.Errorf("material %s: unit is required", m.ID)
		}
		if m.Stock < 0 || (m.MinStock != nil && *m.MinStock < 0) {
			return fmt.Errorf("material %s: quantities must not be negative", m.ID)
		}
		materials[m.ID] = true
	}
	for pid, lines := range c.Recipes {
		if !products[pid] {
			return fmt.Errorf("recipe for unknown product %s", pid)
		}
		for _, l := range lines {
			if !materials[l.Material] {
				return fmt.Errorf("recipe %s: unknown material %s", pid, l.Material)
			}
			if l.Qty <= 0 {
				return fmt.Errorf("recipe %s: quantity of %s must be positive", pid, l.Material)
			}
		}
	}
	for _, u := range c.Users {
		if _, ok := validate.Email(u.Email); !ok {
			return fmt.Errorf("user %q: invalid email", u.Email)
		}
		switch strings.ToUpper(u.Role) {
		case "CASHIER", "MANAGER", "ADMIN":
		default:
			return fmt.Errorf("user %s: unknown role %q", u.Email, u.Role)
		}
		if u.Password == "" {
			return fmt.Errorf("user %s: password is required", u.Email)
		}
	}
	return nil
}

// Import writes the catalog in one unit of work. Every product and material
// is queued as an insert so the remote store learns about it.
func Import(ctx context.Context, db *sqlx.DB, c *Catalog, now time.Time) (Summary, error) {
	var sum Summary
	stamp := repos.Timestamp(now)
	prods := repos.NewProductRepo(db)
	mats := repos.NewMaterialRepo(db)
	recipes := repos.NewRecipeRepo(db)
	users := repos.NewUserRepo(db)
	queue := repos.NewQueueRepo(db)

	// Hashing is slow; do it before the unit of work takes the connection.
	hashes := make([]string, len(c.Users))
	for i, u := range c.Users {
		h, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return sum, err
		}
		hashes[i] = string(h)
	}

	err := repos.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, p := range c.Products {
			row := domain.Product{
				ID: p.ID, TenantID: c.Tenant, Name: p.Name,
				Price: money.Amount(p.Price), Cost: money.Amount(p.Cost), Stock: p.Stock, UpdatedAt: stamp,
			}
			if err := prods.Upsert(ctx, tx, row); err != nil {
				return fmt.Errorf("product %s: %w", p.ID, err)
			}
			if _, err := queue.Enqueue(ctx, tx, syncq.Insert, syncq.ProductPayload{Product: row}, now); err != nil {
				return err
			}
			sum.Products++
			sum.Queued++
		}
		for _, m := range c.Materials {
			row := domain.Material{
				ID: m.ID, TenantID: c.Tenant, Name: m.Name, Unit: m.Unit,
				Stock: ledger.QtyFromFloat(m.Stock), UpdatedAt: stamp,
			}
			if m.MinStock != nil {
				min := ledger.QtyFromFloat(*m.MinStock)
				row.MinStock = &min
			}
			if err := mats.Upsert(ctx, tx, row); err != nil {
				return fmt.Errorf("material %s: %w", m.ID, err)
			}
			if _, err := queue.Enqueue(ctx, tx, syncq.Insert, syncq.MaterialPayload{Material: row}, now); err != nil {
				return err
			}
			sum.Materials++
			sum.Queued++
		}
		for pid, entries := range c.Recipes {
			lines := make([]ledger.RecipeLine, 0, len(entries))
			for _, e := range entries {
				lines = append(lines, ledger.RecipeLine{MaterialID: e.Material, PerUnit: ledger.QtyFromFloat(e.Qty)})
			}
			if err := recipes.Replace(ctx, tx, pid, lines); err != nil {
				return fmt.Errorf("recipe %s: %w", pid, err)
			}
			sum.Recipes++
		}
		for i, u := range c.Users {
			id := u.ID
			if id == "" {
				id = uuid.NewString()
			}
			if err := users.Upsert(ctx, tx, domain.User{
				ID: id, TenantID: c.Tenant, BranchID: c.Branch, Email: u.Email,
				Name: u.Name, Hash: hashes[i], Role: strings.ToUpper(u.Role),
			}); err != nil {
				return fmt.Errorf("user %s: %w", u.Email, err)
			}
			sum.Users++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}
