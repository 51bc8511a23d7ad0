package verify

import (
	"errors"
	"testing"
)

func TestParseRecipe(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid single bay",
			payload: `{"dispensing_bay_1": [{"pill_name": "aspirin", "count": 2}]}`,
		},
		{
			name: "valid multiple bays",
			payload: `{
				"dispensing_bay_1": [{"pill_name": "aspirin", "count": 1}],
				"dispensing_bay_4": [{"pill_name": "metformin", "count": 3}]
			}`,
		},
		{
			name:    "empty recipe is valid",
			payload: `{}`,
		},
		{
			name:    "bay with no medications is valid",
			payload: `{"dispensing_bay_2": []}`,
		},
		{
			name:    "unknown bay",
			payload: `{"dispensing_bay_5": [{"pill_name": "aspirin", "count": 1}]}`,
			wantErr: true,
		},
		{
			name:    "empty pill name",
			payload: `{"dispensing_bay_1": [{"pill_name": "", "count": 1}]}`,
			wantErr: true,
		},
		{
			name:    "zero count",
			payload: `{"dispensing_bay_1": [{"pill_name": "aspirin", "count": 0}]}`,
			wantErr: true,
		},
		{
			name:    "negative count",
			payload: `{"dispensing_bay_1": [{"pill_name": "aspirin", "count": -1}]}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			payload: `{"dispensing_bay_1": [`,
			wantErr: true,
		},
		{
			name:    "wrong shape",
			payload: `["dispensing_bay_1"]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRecipe([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidRecipe) {
					t.Errorf("error = %v, want ErrInvalidRecipe", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r == nil {
				t.Fatal("got nil recipe")
			}
		})
	}
}

func TestBayValid(t *testing.T) {
	for _, bay := range AllBays() {
		if !bay.Valid() {
			t.Errorf("bay %s reported invalid", bay)
		}
	}
	if Bay("dispensing_bay_5").Valid() {
		t.Error("dispensing_bay_5 reported valid")
	}
	if Bay("").Valid() {
		t.Error("empty bay reported valid")
	}
}
