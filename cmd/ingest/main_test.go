package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, cells map[string]string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for cell, v := range cells {
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			t.Fatalf("set %s: %v", cell, err)
		}
	}
	path := filepath.Join(t.TempDir(), "qna.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func clearRequiredEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "EMBEDDING_MODEL", "EMBEDDING_DIM", "QDRANT_URL", "QDRANT_API_KEY", "QDRANT_COLLECTION"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestDryRunCountsPairs(t *testing.T) {
	clearRequiredEnv(t)
	path := writeWorkbook(t, map[string]string{
		"A1": "Q. 환불 되나요?", "B1": "A. 7일 이내 가능합니다.",
		"A2": "Q. 배송은 얼마나?", "B2": "A. 2~3일 걸립니다.",
	})

	var out bytes.Buffer
	code := realMain(context.Background(), []string{"-dry-run", "-file", path}, &out)
	if code != 0 {
		t.Fatalf("exit code %d, output:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "pairs=2") {
		t.Fatalf("expected pair count in output:\n%s", out.String())
	}
}

func TestDryRunNoPairsFails(t *testing.T) {
	clearRequiredEnv(t)
	path := writeWorkbook(t, map[string]string{"A1": "제목", "B1": "설명"})

	var out bytes.Buffer
	if code := realMain(context.Background(), []string{"-dry-run", "-file", path}, &out); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestDryRunMissingFileFails(t *testing.T) {
	clearRequiredEnv(t)
	var out bytes.Buffer
	code := realMain(context.Background(), []string{"-dry-run", "-file", filepath.Join(t.TempDir(), "absent.xlsx")}, &out)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestMissingConfigExitsOne(t *testing.T) {
	clearRequiredEnv(t)
	var out bytes.Buffer
	if code := realMain(context.Background(), nil, &out); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "configuration incomplete") {
		t.Fatalf("expected config error in output:\n%s", out.String())
	}
}

func TestBadFlagExitsTwo(t *testing.T) {
	var out bytes.Buffer
	if code := realMain(context.Background(), []string{"-nope"}, &out); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestDryRunHelper(t *testing.T) {
	src := gridSource{{"A. 답만"}}
	err := dryRun(context.Background(), src, quiet())
	if !errors.Is(err, domain.ErrNoPairs) {
		t.Fatalf("expected ErrNoPairs, got %v", err)
	}
}

type gridSource [][]string

func (g gridSource) Rows(context.Context) ([][]string, error) { return g, nil }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
