package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"smartshop/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductSaver creates or updates one product on behalf of a user.
type ProductSaver interface {
	Save(ctx context.Context, userID string, p domain.Product) (*domain.Product, error)
}

// CSVImporter reads catalog CSV exports and saves every product through the
// catalog service, so imported products are published and pushed like any
// other edit.
type CSVImporter struct {
	reader *csv.Reader
	saver  ProductSaver
	userID string
}

func NewCSVImporter(r io.Reader, saver ProductSaver, userID string) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{
		reader: csvr,
		saver:  saver,
		userID: userID,
	}
}

type csvRow struct {
	Line     int
	ID       string
	Name     string
	Quantity string
	Price    string
	Image    string
}

// Run parses CSV rows and saves one product per named row. Rows without an id
// get a generated one. A row with only an image column fills in the image of
// the product above it.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	if _, ok := index["name"]; !ok {
		return 0, errors.New("read headers: name column is required")
	}

	var (
		current  *csvRow
		imported int
	)

	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}
		line, _ := i.reader.FieldPos(0)

		row := parseRow(record, index, line)
		if row == nil {
			continue
		}

		if row.Name != "" {
			if current != nil {
				if err := i.save(ctx, current); err != nil {
					return imported, err
				}
				imported++
			}
			current = row
			continue
		}

		if current != nil && current.Image == "" {
			current.Image = row.Image
		}
	}

	if current != nil {
		if err := i.save(ctx, current); err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}

func (i *CSVImporter) save(ctx context.Context, row *csvRow) error {
	p, err := row.product()
	if err != nil {
		return fmt.Errorf("line %d: %w", row.Line, err)
	}
	if _, err := i.saver.Save(ctx, i.userID, p); err != nil {
		return fmt.Errorf("line %d: save product %q: %w", row.Line, row.Name, err)
	}
	return nil
}

func (r *csvRow) product() (domain.Product, error) {
	qty, err := strconv.Atoi(r.Quantity)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: quantity %q is not a whole number", domain.ErrInvalidProduct, r.Quantity)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: price %q is not a decimal", domain.ErrInvalidProduct, r.Price)
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Product{
		ID:       id,
		Name:     r.Name,
		Quantity: qty,
		Price:    price,
	}
	if r.Image != "" {
		image := r.Image
		p.ImageRef = &image
	}
	return p, p.Validate()
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		switch h {
		case "image_ref", "imageref", "image_url":
			h = "image"
		case "stock", "qty":
			h = "quantity"
		}
		idx[h] = i
	}
	return idx
}

func parseRow(record []string, index map[string]int, line int) *csvRow {
	row := &csvRow{
		Line:     line,
		ID:       pick(record, index, "id"),
		Name:     pick(record, index, "name"),
		Quantity: pick(record, index, "quantity"),
		Price:    pick(record, index, "price"),
		Image:    pick(record, index, "image"),
	}
	if row.Name == "" && row.Image == "" {
		return nil
	}
	return row
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
