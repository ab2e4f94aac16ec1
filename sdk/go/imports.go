package airlift

// ImportRow is one row of the merged uploads and imports view: the upload
// session joined with whatever the import pipeline has produced for it.
type ImportRow struct {
	Upload Upload
	// Import is nil while the pipeline has not reported on this upload.
	Import *Import
	// Status is the effective display status: the import's when present,
	// PROCESSING otherwise.
	Status string
}

// ProjectImportStatus joins an uploads page with an imports page on upload
// id. Uploads without a matching import row render as still processing. The
// join is pure; it reads both inputs and touches neither.
func ProjectImportStatus(uploads []Upload, imports []Import) []ImportRow {
	byID := make(map[int64]*Import, len(imports))
	for i := range imports {
		byID[imports[i].ID] = &imports[i]
	}

	rows := make([]ImportRow, 0, len(uploads))
	for _, u := range uploads {
		row := ImportRow{Upload: u, Status: ImportStatusProcessing}
		if imp, ok := byID[u.ID]; ok {
			cp := *imp
			row.Import = &cp
			row.Status = imp.Status
		}
		rows = append(rows, row)
	}
	return rows
}
