package domain

import "backoffice/internal/grid"

func col(key, name string, t grid.ColumnType, sortable, filterable bool) grid.Column {
	return grid.Column{Key: key, DisplayName: name, Type: t, Sortable: sortable, Filterable: filterable}
}

// DefaultColumns returns the built-in column declarations for a directory
// kind. Custom datasets start with no columns.
func DefaultColumns(kind DatasetKind) []grid.Column {
	switch kind {
	case KindCompany:
		return []grid.Column{
			col("name", "Name", grid.TypeString, true, true),
			col("taxId", "Tax ID", grid.TypeString, false, true),
			col("address.city", "City", grid.TypeString, true, true),
			col("address.country", "Country", grid.TypeString, true, true),
			col("employees", "Employees", grid.TypeNumber, true, true),
			col("createdAt", "Created", grid.TypeDate, true, false),
		}
	case KindClient, KindSupplier:
		return []grid.Column{
			col("name", "Name", grid.TypeString, true, true),
			col("taxId", "Tax ID", grid.TypeString, false, true),
			col("email", "Email", grid.TypeString, true, true),
			col("address.city", "City", grid.TypeString, true, true),
			col("balance", "Balance", grid.TypeNumber, true, true),
			col("createdAt", "Created", grid.TypeDate, true, false),
			col("active", "Active", grid.TypeBoolean, true, true),
		}
	case KindTransport:
		return []grid.Column{
			col("carrier", "Carrier", grid.TypeString, true, true),
			col("plate", "Plate", grid.TypeString, false, true),
			col("capacityKg", "Capacity (kg)", grid.TypeNumber, true, true),
			col("ratePerKm", "Rate/km", grid.TypeNumber, true, true),
			col("active", "Active", grid.TypeBoolean, true, true),
		}
	case KindSalesOrder, KindPurchaseOrder:
		party := "client.name"
		label := "Client"
		if kind == KindPurchaseOrder {
			party, label = "supplier.name", "Supplier"
		}
		return []grid.Column{
			col("number", "Number", grid.TypeString, true, true),
			col(party, label, grid.TypeString, true, true),
			col("status", "Status", grid.TypeString, true, true),
			col("total", "Total", grid.TypeNumber, true, true),
			col("orderedAt", "Ordered", grid.TypeDate, true, false),
		}
	case KindInvoice:
		return []grid.Column{
			col("number", "Number", grid.TypeString, true, true),
			col("client.name", "Client", grid.TypeString, true, true),
			col("amount", "Amount", grid.TypeNumber, true, true),
			col("tax", "Tax", grid.TypeNumber, true, true),
			col("issuedAt", "Issued", grid.TypeDate, true, false),
			col("dueAt", "Due", grid.TypeDate, true, false),
			col("paid", "Paid", grid.TypeBoolean, true, true),
		}
	default:
		return nil
	}
}
