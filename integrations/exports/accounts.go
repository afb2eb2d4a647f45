package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"occrlend/native/lending"
)

// AccountRow is the flattened form of a borrower account used by every
// export format.
type AccountRow struct {
	Address       string `json:"address"`
	Collateral    string `json:"collateral"`
	Debt          string `json:"debt"`
	Buffer        string `json:"buffer"`
	ScoreMicro    uint64 `json:"score_micro"`
	MaxLTVBps     uint64 `json:"max_ltv_bps"`
	MaxBorrowable string `json:"max_borrowable"`
	Underwater    bool   `json:"underwater"`
	SnapshotAt    string `json:"snapshot_at"`
}

// Rows flattens accounts, stamping each row with snapshot.
func Rows(accounts []*lending.Account, snapshot time.Time) []AccountRow {
	stamp := snapshot.UTC().Format(time.RFC3339)
	rows := make([]AccountRow, 0, len(accounts))
	for _, acct := range accounts {
		if acct == nil {
			continue
		}
		row := AccountRow{
			Address:       strings.ToLower(acct.Address.Hex()),
			Collateral:    "0",
			Debt:          "0",
			Buffer:        "0",
			ScoreMicro:    acct.ScoreMicro,
			MaxLTVBps:     acct.MaxLTVBps,
			MaxBorrowable: amount(acct.MaxBorrowable),
			Underwater:    acct.Underwater,
			SnapshotAt:    stamp,
		}
		if acct.Position != nil {
			row.Collateral = amount(acct.Position.Collateral)
			row.Debt = amount(acct.Position.Debt)
			row.Buffer = amount(acct.Position.Buffer)
		}
		rows = append(rows, row)
	}
	return rows
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// AccountsCSV serialises rows as CSV and returns the payload with its
// SHA-256 checksum.
func AccountsCSV(rows []AccountRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	w := csv.NewWriter(buffer)
	header := []string{"address", "collateral", "debt", "buffer", "score_micro", "max_ltv_bps", "max_borrowable", "underwater", "snapshot_at"}
	if err := w.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			row.Address,
			row.Collateral,
			row.Debt,
			row.Buffer,
			strconv.FormatUint(row.ScoreMicro, 10),
			strconv.FormatUint(row.MaxLTVBps, 10),
			row.MaxBorrowable,
			strconv.FormatBool(row.Underwater),
			row.SnapshotAt,
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

// AccountsJSONL serialises rows as JSON Lines together with a checksum.
func AccountsJSONL(rows []AccountRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

type parquetRow struct {
	Address       string `parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
	Collateral    string `parquet:"name=collateral, type=BYTE_ARRAY, convertedtype=UTF8"`
	Debt          string `parquet:"name=debt, type=BYTE_ARRAY, convertedtype=UTF8"`
	Buffer        string `parquet:"name=buffer, type=BYTE_ARRAY, convertedtype=UTF8"`
	ScoreMicro    int64  `parquet:"name=score_micro, type=INT64"`
	MaxLTVBps     int64  `parquet:"name=max_ltv_bps, type=INT64"`
	MaxBorrowable string `parquet:"name=max_borrowable, type=BYTE_ARRAY, convertedtype=UTF8"`
	Underwater    bool   `parquet:"name=underwater, type=BOOLEAN"`
	SnapshotAt    string `parquet:"name=snapshot_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteAccountsParquet writes rows to path as a Snappy-compressed parquet
// file. Amounts stay decimal strings since they exceed 64 bits.
func WriteAccountsParquet(path string, rows []AccountRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Address:       row.Address,
			Collateral:    row.Collateral,
			Debt:          row.Debt,
			Buffer:        row.Buffer,
			ScoreMicro:    int64(row.ScoreMicro),
			MaxLTVBps:     int64(row.MaxLTVBps),
			MaxBorrowable: row.MaxBorrowable,
			Underwater:    row.Underwater,
			SnapshotAt:    row.SnapshotAt,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
