package messaging

import (
	"strings"
	"testing"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

func TestRenderText_Buttons(t *testing.T) {
	c := models.NewButtons("¿Deseas continuar?", "Si", "No")
	text, opts := renderText(c)

	want := "¿Deseas continuar?\n\n1. Si\n2. No" + OptionHint
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
	if len(opts) != 2 || opts[1].Reply != "No" {
		t.Errorf("opts = %+v", opts)
	}
}

func TestRenderText_List(t *testing.T) {
	c := models.NewList("Elige un grado", "Opciones", models.ListSection{
		Title: "Inicial",
		Rows: []models.ListRow{
			{ID: "grado_1_id", Title: "3 años", Description: "INICIAL"},
			{ID: "grado_2_id", Title: "4 años"},
		},
	})
	text, opts := renderText(c)

	for _, want := range []string{"*Inicial*", "1. 3 años - INICIAL", "2. 4 años"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
	if len(opts) != 2 || opts[0].Reply != "grado_1_id" {
		t.Errorf("opts = %+v", opts)
	}
}

func TestOptionMemory_Resolve(t *testing.T) {
	m := newOptionMemory()
	_, opts := renderText(models.NewList("x", "y", models.ListSection{Rows: []models.ListRow{
		{ID: "grado_1_id", Title: "3 años"},
		{ID: "grado_2_id", Title: "4 años"},
	}}))
	m.remember("51987654321", opts)

	tests := []struct {
		name     string
		ev       models.Event
		wantKind models.EventKind
		wantBody string
	}{
		{"other key untouched", models.Event{Key: "1", Kind: models.EventText, Body: "2"}, models.EventText, "2"},
		{"out of range", models.Event{Key: "51987654321", Kind: models.EventText, Body: "7"}, models.EventText, "7"},
		{"free text", models.Event{Key: "51987654321", Kind: models.EventText, Body: "hola"}, models.EventText, "hola"},
		{"by number", models.Event{Key: "51987654321", Kind: models.EventText, Body: " 2. "}, models.EventButtonReply, "grado_2_id"},
		{"consumed", models.Event{Key: "51987654321", Kind: models.EventText, Body: "1"}, models.EventText, "1"},
	}
	for _, tt := range tests {
		got := m.resolve(tt.ev)
		if got.Kind != tt.wantKind || got.Body != tt.wantBody {
			t.Errorf("%s: got (%s, %q), want (%s, %q)", tt.name, got.Kind, got.Body, tt.wantKind, tt.wantBody)
		}
	}

	m.remember("51987654321", opts)
	got := m.resolve(models.Event{Key: "51987654321", Kind: models.EventText, Body: "3 AÑOS"})
	if got.Kind != models.EventButtonReply || got.Body != "grado_1_id" {
		t.Errorf("title match = %+v", got)
	}
}

func TestOptionMemory_EmptyRememberForgets(t *testing.T) {
	m := newOptionMemory()
	_, opts := renderText(models.NewButtons("¿Iniciar?", "Si", "No"))
	m.remember("51987654321", opts)
	m.remember("51987654321", nil)

	got := m.resolve(models.Event{Key: "51987654321", Kind: models.EventText, Body: "1"})
	if got.Kind != models.EventText || got.Body != "1" {
		t.Errorf("forgotten menu still resolved: %+v", got)
	}
}
