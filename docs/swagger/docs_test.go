package swagger

import (
	"encoding/json"
	"testing"

	"github.com/swaggo/swag"
)

func TestDocIsValidJSON(t *testing.T) {
	raw, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}
	var doc struct {
		BasePath string                    `json:"basePath"`
		Paths    map[string]map[string]any `json:"paths"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("doc is not JSON: %v", err)
	}
	if doc.BasePath != "/api" {
		t.Fatalf("basePath = %q", doc.BasePath)
	}
	for _, p := range []string{"/inventory/borrow", "/inventory/withdraw", "/inventory/return", "/equipment/{id}", "/loans/active.csv"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("path %s missing", p)
		}
	}
}
