// Package dataset reads the four supply-chain source tables, keeps them as a
// process-lifetime snapshot, and derives the fact corpus for the vector index.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/intellia-labs/nexus/engine/domain"
)

// File names of the source tables inside a data directory.
const (
	InventoryFile = "inventory.csv"
	SuppliersFile = "suppliers.csv"
	LogisticsFile = "logistics.csv"
	ReturnsFile   = "returns.csv"
)

// ReadDir loads all four tables from dir.
func ReadDir(dir string) (*domain.Tables, error) {
	var t domain.Tables
	var err error

	if t.Items, err = readFile(dir, InventoryFile, domain.TableInventory, parseItems); err != nil {
		return nil, err
	}
	if t.Suppliers, err = readFile(dir, SuppliersFile, domain.TableSuppliers, parseSuppliers); err != nil {
		return nil, err
	}
	if t.Shipments, err = readFile(dir, LogisticsFile, domain.TableLogistics, parseShipments); err != nil {
		return nil, err
	}
	if t.Returns, err = readFile(dir, ReturnsFile, domain.TableReturns, parseReturns); err != nil {
		return nil, err
	}
	return &t, nil
}

func readFile[T any](dir, name, table string, parse func(*sheet) ([]T, error)) ([]T, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", name, err)
	}
	defer f.Close()

	sh, err := readSheet(table, f)
	if err != nil {
		return nil, err
	}
	return parse(sh)
}

// sheet is a header-indexed CSV body.
type sheet struct {
	table string
	cols  map[string]int
	rows  [][]string
}

func readSheet(table string, r io.Reader) (*sheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.NewTableError(table, 0, "", fmt.Errorf("%w: missing header", domain.ErrInvalidTable))
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s header: %w", table, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", table, err)
	}
	return &sheet{table: table, cols: cols, rows: rows}, nil
}

// require checks that every named column is present in the header.
func (s *sheet) require(names ...string) error {
	for _, n := range names {
		if _, ok := s.cols[n]; !ok {
			return domain.NewTableError(s.table, 0, n, fmt.Errorf("%w: missing column", domain.ErrInvalidTable))
		}
	}
	return nil
}

func (s *sheet) str(row []string, col string) string {
	i := s.cols[col]
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (s *sheet) integer(rowNum int, row []string, col string) (int, error) {
	raw := s.str(row, col)
	v, err := strconv.Atoi(raw)
	if err != nil {
		// Exported floats such as "12.0" are still whole quantities.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0, domain.NewTableError(s.table, rowNum, col, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidTable, raw))
		}
		v = int(f)
	}
	return v, nil
}

func (s *sheet) number(rowNum int, row []string, col string) (float64, error) {
	raw := s.str(row, col)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, domain.NewTableError(s.table, rowNum, col, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidTable, raw))
	}
	return v, nil
}

func parseItems(s *sheet) ([]domain.Item, error) {
	if err := s.require("item_id", "item_name", "stock", "warehouse_id", "predicted_demand_next_week"); err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(s.rows))
	for i, row := range s.rows {
		stock, err := s.integer(i+1, row, "stock")
		if err != nil {
			return nil, err
		}
		demand, err := s.integer(i+1, row, "predicted_demand_next_week")
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Item{
			ItemID:      s.str(row, "item_id"),
			Name:        s.str(row, "item_name"),
			Stock:       stock,
			WarehouseID: s.str(row, "warehouse_id"),
			Demand:      demand,
		})
	}
	return out, nil
}

func parseSuppliers(s *sheet) ([]domain.Supplier, error) {
	if err := s.require("supplier_id", "supplier_name", "item_id", "on_time_rate", "return_rate"); err != nil {
		return nil, err
	}
	out := make([]domain.Supplier, 0, len(s.rows))
	for i, row := range s.rows {
		onTime, err := s.number(i+1, row, "on_time_rate")
		if err != nil {
			return nil, err
		}
		returnRate, err := s.number(i+1, row, "return_rate")
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Supplier{
			SupplierID: s.str(row, "supplier_id"),
			Name:       s.str(row, "supplier_name"),
			ItemID:     s.str(row, "item_id"),
			OnTimeRate: onTime,
			ReturnRate: returnRate,
		})
	}
	return out, nil
}

func parseShipments(s *sheet) ([]domain.Shipment, error) {
	if err := s.require("shipment_id", "item_id", "carrier", "delayed", "delay_reason"); err != nil {
		return nil, err
	}
	out := make([]domain.Shipment, 0, len(s.rows))
	for i, row := range s.rows {
		delayed, err := domain.ParseDelayed(s.str(row, "delayed"))
		if err != nil {
			return nil, domain.NewTableError(s.table, i+1, "delayed", err)
		}
		out = append(out, domain.Shipment{
			ShipmentID:  s.str(row, "shipment_id"),
			ItemID:      s.str(row, "item_id"),
			Carrier:     s.str(row, "carrier"),
			Delayed:     delayed,
			DelayReason: s.str(row, "delay_reason"),
		})
	}
	return out, nil
}

func parseReturns(s *sheet) ([]domain.Return, error) {
	if err := s.require("return_id", "item_id", "customer_id", "return_reason", "date"); err != nil {
		return nil, err
	}
	out := make([]domain.Return, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, domain.Return{
			ReturnID:   s.str(row, "return_id"),
			ItemID:     s.str(row, "item_id"),
			CustomerID: s.str(row, "customer_id"),
			Reason:     s.str(row, "return_reason"),
			Date:       s.str(row, "date"),
		})
	}
	return out, nil
}
