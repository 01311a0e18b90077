package invoice

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	invoicesSheet = "Invoices"
	itemsSheet    = "Items"
)

// ExportXLSX writes every stored invoice to w as an XLSX workbook with one
// sheet of invoices and one sheet of line items.
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer) error {
	invoices, err := s.db.ListInvoices(ctx)
	if err != nil {
		return fmt.Errorf("listing invoices: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoicesSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	invoiceHeader := []any{
		"ID", "Invoice Number", "Invoice Date", "Supplier", "Customer",
		"Billing Address", "Shipping Address", "Supplier GSTIN", "Customer GSTIN",
		"Subtotal", "Tax Rate (%)", "Tax", "Total", "Source File", "Sender",
	}
	if err := f.SetSheetRow(invoicesSheet, "A1", &invoiceHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	itemHeader := []any{"Invoice ID", "Invoice Number", "Description", "Quantity", "Unit Price", "Line Total"}
	if err := f.SetSheetRow(itemsSheet, "A1", &itemHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	itemRow := 2
	for i, inv := range invoices {
		row := []any{
			inv.ID,
			inv.InvoiceNumber,
			inv.InvoiceDate.Format(dateLayout),
			inv.Supplier,
			inv.Customer,
			inv.BillingAddress,
			inv.ShippingAddress,
			inv.SupplierGSTIN,
			inv.CustomerGSTIN,
			inv.Subtotal.InexactFloat64(),
			inv.TaxRate.InexactFloat64(),
			inv.Tax.InexactFloat64(),
			inv.Total.InexactFloat64(),
			inv.SourceFilename,
			inv.Sender,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(invoicesSheet, cell, &row); err != nil {
			return fmt.Errorf("writing invoice %d: %w", inv.ID, err)
		}

		for _, item := range inv.Items {
			row := []any{
				inv.ID,
				inv.InvoiceNumber,
				item.Description,
				item.Quantity,
				item.UnitPrice.InexactFloat64(),
				item.LineTotal.InexactFloat64(),
			}
			cell, _ := excelize.CoordinatesToCellName(1, itemRow)
			if err := f.SetSheetRow(itemsSheet, cell, &row); err != nil {
				return fmt.Errorf("writing items of invoice %d: %w", inv.ID, err)
			}
			itemRow++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
