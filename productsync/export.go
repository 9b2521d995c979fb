package productsync

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Sheet1"

// ExportMissingProductsExcel builds an XLSX workbook of the deduplicated
// cross-tenant missing list, one product per row.
func (s *Service) ExportMissingProductsExcel() (*excelize.File, error) {
	f := excelize.NewFile()
	if _, err := f.NewSheet(exportSheet); err != nil {
		return nil, err
	}

	// Add headers
	f.SetCellValue(exportSheet, "A1", "ID")
	f.SetCellValue(exportSheet, "B1", "Descricao")
	f.SetCellValue(exportSheet, "C1", "EAN")
	f.SetCellValue(exportSheet, "D1", "SaldoEstoque")
	f.SetCellValue(exportSheet, "E1", "EmpId")
	f.SetCellValue(exportSheet, "F1", "Grupo")
	f.SetCellValue(exportSheet, "G1", "Subgrupo")
	f.SetCellValue(exportSheet, "H1", "Preco")
	f.SetCellValue(exportSheet, "I1", "TemImagem")

	// Add data
	for i, product := range s.GetUniqueMissingProducts() {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(exportSheet, "A"+row, product.ID)
		f.SetCellValue(exportSheet, "B"+row, product.Descricao)
		f.SetCellValue(exportSheet, "C"+row, product.Ean)
		f.SetCellValue(exportSheet, "D"+row, product.SaldoEstoque)
		f.SetCellValue(exportSheet, "E"+row, product.EmpId)
		f.SetCellValue(exportSheet, "F"+row, product.Grupo)
		f.SetCellValue(exportSheet, "G"+row, product.Subgrupo)
		if product.Preco != nil {
			f.SetCellValue(exportSheet, "H"+row, product.Preco.String())
		}
		f.SetCellValue(exportSheet, "I"+row, product.HasImage)
	}

	return f, nil
}
