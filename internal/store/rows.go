package store

import (
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/lscollection/internal/harvest"
	"github.com/brensch/lscollection/internal/lpgs"
	"github.com/brensch/lscollection/internal/products"
)

const dateLayout = "2006-01-02"

// productRow is the parquet layout shared by sys_products and
// oth_and_children_products. System rows leave the product columns empty.
type productRow struct {
	Level1Name  string `parquet:"name=level1_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Path        int64  `parquet:"name=path, type=INT64"`
	Row         int64  `parquet:"name=row, type=INT64"`
	PassID      string `parquet:"name=pass_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PassName    string `parquet:"name=pass_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	L0Success   int64  `parquet:"name=l0_success, type=INT64"`
	L0Fail      int64  `parquet:"name=l0_fail, type=INT64"`
	L1Success   int64  `parquet:"name=l1_success, type=INT64"`
	L1Fail      int64  `parquet:"name=l1_fail, type=INT64"`
	L1G         int64  `parquet:"name=l1_l1g, type=INT64"`
	L1Gt        int64  `parquet:"name=l1_l1gt, type=INT64"`
	L1T         int64  `parquet:"name=l1_l1t, type=INT64"`
	Sensor      string `parquet:"name=sensor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date        string `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	PassValid   bool   `parquet:"name=pass_valid, type=BOOLEAN"`
	Predicted   bool   `parquet:"name=predicted, type=BOOLEAN"`
	NBARName    string `parquet:"name=nbar_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	NBARTName   string `parquet:"name=nbart_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	PQName      string `parquet:"name=pq_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	NBARExists  bool   `parquet:"name=nbar_exists, type=BOOLEAN"`
	NBARTExists bool   `parquet:"name=nbart_exists, type=BOOLEAN"`
	PQExists    bool   `parquet:"name=pq_exists, type=BOOLEAN"`
}

type failureRow struct {
	Level0Fname string `parquet:"name=level0_fname, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type packageTempRow struct {
	PackageTemp string `parquet:"name=packagetmp, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toProductRow(e harvest.Entry) productRow {
	r := productRow{
		Level1Name:  e.Level1Name,
		Path:        e.Path,
		Row:         e.Row,
		PassID:      e.PassID,
		PassName:    e.PassName,
		L0Success:   e.L0Success,
		L0Fail:      e.L0Fail,
		L1Success:   e.L1Success,
		L1Fail:      e.L1Fail,
		L1G:         e.L1G,
		L1Gt:        e.L1Gt,
		L1T:         e.L1T,
		PassValid:   e.Pass.Valid,
		Predicted:   e.Predicted,
		NBARName:    e.Products.NBARPath,
		NBARTName:   e.Products.NBARTPath,
		PQName:      e.Products.PQPath,
		NBARExists:  e.Products.NBARExists,
		NBARTExists: e.Products.NBARTExists,
		PQExists:    e.Products.PQExists,
	}
	if e.Pass.Valid {
		r.Sensor = e.Pass.Sensor
		r.Date = e.Pass.Date.Format(dateLayout)
	}
	return r
}

func fromProductRow(r productRow) (harvest.Entry, error) {
	e := harvest.Entry{
		Record: lpgs.Record{
			Level1Name: r.Level1Name,
			Path:       r.Path,
			Row:        r.Row,
			PassID:     r.PassID,
			PassName:   r.PassName,
			L0Success:  r.L0Success,
			L0Fail:     r.L0Fail,
			L1Success:  r.L1Success,
			L1Fail:     r.L1Fail,
			L1G:        r.L1G,
			L1Gt:       r.L1Gt,
			L1T:        r.L1T,
		},
		Predicted: r.Predicted,
		Products: products.Reference{
			NBARPath:    r.NBARName,
			NBARTPath:   r.NBARTName,
			PQPath:      r.PQName,
			NBARExists:  r.NBARExists,
			NBARTExists: r.NBARTExists,
			PQExists:    r.PQExists,
		},
	}
	if r.PassValid {
		d, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return harvest.Entry{}, fmt.Errorf("row %s: date %q: %w", r.Level1Name, r.Date, err)
		}
		e.Pass = lpgs.Pass{Sensor: r.Sensor, Date: d, Valid: true}
	}
	return e, nil
}

// encodeParquet writes rows into an in-memory parquet file.
func encodeParquet[T any](rows []T) ([]byte, error) {
	fw := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return fw.Bytes(), nil
}

// decodeParquet reads every row of an in-memory parquet file.
func decodeParquet[T any](data []byte) ([]T, error) {
	fr := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(fr, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("open parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read %d parquet rows: %w", n, err)
	}
	return rows, nil
}

func encodeEntries(entries []harvest.Entry) ([]byte, error) {
	rows := make([]productRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toProductRow(e))
	}
	return encodeParquet(rows)
}

func decodeEntries(data []byte) ([]harvest.Entry, error) {
	rows, err := decodeParquet[productRow](data)
	if err != nil {
		return nil, err
	}
	entries := make([]harvest.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := fromProductRow(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func encodeFailures(paths []string) ([]byte, error) {
	rows := make([]failureRow, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, failureRow{Level0Fname: p})
	}
	return encodeParquet(rows)
}

func decodeFailures(data []byte) ([]string, error) {
	rows, err := decodeParquet[failureRow](data)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(rows))
	for _, r := range rows {
		paths = append(paths, r.Level0Fname)
	}
	return paths, nil
}

func encodePackageTemp(paths []string) ([]byte, error) {
	rows := make([]packageTempRow, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, packageTempRow{PackageTemp: p})
	}
	return encodeParquet(rows)
}

func decodePackageTemp(data []byte) ([]string, error) {
	rows, err := decodeParquet[packageTempRow](data)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(rows))
	for _, r := range rows {
		paths = append(paths, r.PackageTemp)
	}
	return paths, nil
}
