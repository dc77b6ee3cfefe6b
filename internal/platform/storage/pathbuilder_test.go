package storage

import "testing"

func TestBuildObjectPathProductContent(t *testing.T) {
	path, err := BuildObjectPath(PurposeProductContent, PathParams{
		ProductID: "prd_01H",
		FileName:  "bundle.zip",
	})
	if err != nil {
		t.Fatalf("BuildObjectPath returned error: %v", err)
	}
	if path != "content/products/prd_01H/bundle.zip" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestBuildObjectPathReceiptDefaultsFileName(t *testing.T) {
	path, err := BuildObjectPath(PurposeReceipt, PathParams{
		OrderID:       "ord_42",
		InvoiceNumber: "LS-2025-000042",
	})
	if err != nil {
		t.Fatalf("BuildObjectPath returned error: %v", err)
	}
	if path != "receipts/orders/ord_42/LS-2025-000042.pdf" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeProductContent, PathParams{
		ProductID: "../escape",
		FileName:  "bundle.zip",
	})
	if err == nil {
		t.Fatal("expected error for traversal segment")
	}
}

func TestValidateObjectPath(t *testing.T) {
	cases := []struct {
		object string
		valid  bool
	}{
		{"content/products/prd_1/bundle.zip", true},
		{"", false},
		{"/absolute/path", false},
		{"content//double", false},
		{"content/../escape", false},
	}
	for _, tc := range cases {
		err := ValidateObjectPath(tc.object)
		if tc.valid && err != nil {
			t.Fatalf("expected %q to be valid, got %v", tc.object, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("expected %q to be rejected", tc.object)
		}
	}
}
