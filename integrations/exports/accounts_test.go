package exports

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"occrlend/native/lending"
)

func sampleAccounts() []*lending.Account {
	debt, _ := new(big.Int).SetString("1000000000000000000000", 10)
	return []*lending.Account{
		{
			Address:       common.HexToAddress("0x00000000000000000000000000000000000000AA"),
			Position:      &lending.Position{Collateral: big.NewInt(5), Debt: debt, Buffer: big.NewInt(0)},
			ScoreMicro:    10_000,
			MaxLTVBps:     5_004,
			MaxBorrowable: big.NewInt(0),
			Underwater:    true,
		},
		nil,
		{Address: common.HexToAddress("0x00000000000000000000000000000000000000bb")},
	}
}

var snapshot = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestRowsFlattenAccounts(t *testing.T) {
	rows := Rows(sampleAccounts(), snapshot)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Address != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("unexpected address %s", rows[0].Address)
	}
	if rows[0].Debt != "1000000000000000000000" || !rows[0].Underwater {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].Collateral != "0" || rows[1].MaxBorrowable != "0" {
		t.Fatalf("empty account should export zeros, got %+v", rows[1])
	}
	if rows[1].SnapshotAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected snapshot stamp %s", rows[1].SnapshotAt)
	}
}

func TestAccountsCSV(t *testing.T) {
	data, checksum, err := AccountsCSV(Rows(sampleAccounts(), snapshot))
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(checksum) != 64 {
		t.Fatalf("unexpected checksum %q", checksum)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	if records[1][4] != "10000" || records[1][7] != "true" {
		t.Fatalf("unexpected csv row %v", records[1])
	}
	again, checksum2, _ := AccountsCSV(Rows(sampleAccounts(), snapshot))
	if checksum != checksum2 || !bytes.Equal(data, again) {
		t.Fatalf("csv export is not deterministic")
	}
}

func TestAccountsJSONL(t *testing.T) {
	data, _, err := AccountsJSONL(Rows(sampleAccounts(), snapshot))
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		var row AccountRow
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestWriteAccountsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.parquet")
	if err := WriteAccountsParquet(path, Rows(sampleAccounts(), snapshot)); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("expected 2 parquet rows, got %d", n)
	}
	out := make([]parquetRow, 2)
	if err := pr.Read(&out); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if out[0].Debt != "1000000000000000000000" || out[0].MaxLTVBps != 5_004 {
		t.Fatalf("unexpected parquet row %+v", out[0])
	}
}
