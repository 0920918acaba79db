package catalog

import "testing"

func TestNameMatches(t *testing.T) {
	tests := []struct {
		name  string
		query string
		cand  string
		want  bool
	}{
		{"honorific prefix", "Dr. Carlos", "Carlos Mendes", true},
		{"honorific with dot and case", "DRA. ANA", "Ana Beatriz Souza", true},
		{"full name in query", "quero marcar com Carlos Mendes por favor", "Carlos Mendes", true},
		{"accent insensitive", "endoscopia digestiva", "Endoscopia Digestíva", true},
		{"partial service name", "endoscopia", "Endoscopia Digestiva", true},
		{"unrelated names", "Dr. Carlos", "Paula Ferreira", false},
		{"token must all match", "Carlos Ferreira", "Carlos Mendes", false},
		{"empty query", "", "Carlos Mendes", false},
		{"empty candidate", "Carlos", "", false},
		{"honorific only", "Dr.", "Carlos Mendes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameMatches(tt.query, tt.cand); got != tt.want {
				t.Errorf("NameMatches(%q, %q) = %v, want %v", tt.query, tt.cand, got, tt.want)
			}
		})
	}
}

func TestInMemoryDirectoryAmbiguity(t *testing.T) {
	dir := NewInMemoryDirectory(
		[]Service{
			{ID: "svc-1", Name: "Endoscopia Digestiva", DurationMin: 40, Active: true},
			{ID: "svc-2", Name: "Consulta Clínica", DurationMin: 30, Active: true},
		},
		[]Professional{
			{ID: "pro-1", Name: "Carlos Mendes", ServiceIDs: []string{"svc-1"}, Active: true},
			{ID: "pro-2", Name: "Carlos Eduardo Lima", ServiceIDs: []string{"svc-2"}, Active: true},
			{ID: "pro-3", Name: "Paula Ferreira", ServiceIDs: []string{"svc-1", "svc-2"}, Active: true},
		},
	)

	pros, err := dir.FindProfessionals(nil, "Dr. Carlos")
	if err != nil {
		t.Fatalf("FindProfessionals: %v", err)
	}
	if len(pros) != 2 {
		t.Fatalf("expected 2 ambiguous candidates for 'Dr. Carlos', got %d", len(pros))
	}

	pros, err = dir.FindProfessionals(nil, "Paula")
	if err != nil {
		t.Fatalf("FindProfessionals: %v", err)
	}
	if len(pros) != 1 || pros[0].ID != "pro-3" {
		t.Fatalf("expected unique match pro-3, got %#v", pros)
	}

	offered, err := dir.ListProfessionals(nil, "svc-1")
	if err != nil {
		t.Fatalf("ListProfessionals: %v", err)
	}
	if len(offered) != 2 {
		t.Fatalf("expected 2 professionals for svc-1, got %d", len(offered))
	}
}
