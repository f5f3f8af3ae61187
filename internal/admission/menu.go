package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/lookup"
	"github.com/BTreeMap/DialogPipe/internal/models"
)

// Menu buttons and list replies. Replies must match these exactly to trigger flows.
const (
	ButtonPlanEducativo   = "Plan Educativo"
	ButtonAdmision        = "Admisión 2025"
	ButtonContactarAsesor = "Contactar Asesor"
	ButtonNuevo           = "1. Nuevo 👦🏻"
	ButtonTraslado        = "2. Traslado 🚌"
)

// grade is how the vacancy API names a grade.
type grade struct {
	Nombre string
	Nivel  string
}

func (g grade) String() string {
	return g.Nombre + " " + g.Nivel
}

// gradeRows maps list row ids to the vacancy API's grade names.
var gradeRows = []struct {
	ID    string
	Title string
	Grade grade
}{
	{"grado_1_id", "3 años", grade{"3 Años", "Inicial"}},
	{"grado_2_id", "4 años", grade{"4 Años", "Inicial"}},
	{"grado_3_id", "5 años", grade{"5 Años", "Inicial"}},
	{"grado_4_id", "1° grado", grade{"1° Grado", "Primaria"}},
	{"grado_5_id", "2° grado", grade{"2° Grado", "Primaria"}},
	{"grado_6_id", "3° grado", grade{"3° Grado", "Primaria"}},
	{"grado_7_id", "4° grado", grade{"4° Grado", "Primaria"}},
	{"grado_8_id", "5° grado", grade{"5° Grado", "Primaria"}},
	{"grado_9_id", "6° grado", grade{"6° Grado", "Primaria"}},
	{"grado_10_id", "1° grado", grade{"1° Grado", "Secundaria"}},
}

// newStudentRows is how many of gradeRows a new student can join (initial to first grade).
const newStudentRows = 4

func gradeByID(id string) (grade, bool) {
	for _, r := range gradeRows {
		if r.ID == id {
			return r.Grade, true
		}
	}
	return grade{}, false
}

func gradeList(n int) models.Content {
	rows := make([]models.ListRow, 0, n)
	for _, r := range gradeRows[:n] {
		rows = append(rows, models.ListRow{ID: r.ID, Title: r.Title, Description: strings.ToUpper(r.Grade.Nivel)})
	}
	return models.NewList(msgElegirGrado, "Opciones", models.ListSection{Rows: rows})
}

func (b *Bot) delayed(c models.Content) models.Content {
	return c.WithDelay(b.opts.PromptDelay)
}

func (b *Bot) principal() flow.Flow {
	return flow.Flow{
		ID:       FlowPrincipal,
		Triggers: []flow.Trigger{flow.OnEvent(models.EventStart)},
		Next:     []string{FlowTipoAdmision, FlowPlanEducativo, FlowAsesor},
		Steps: []flow.Step{
			flow.Do("saludo", func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
				name := sc.Event.PushName
				if name == "" {
					name = "amigo"
				}
				return flow.Continue(), sc.Say(ctx, fmt.Sprintf(msgBienvenida, name))
			}),
			flow.Say(b.delayed(models.NewButtons(msgOpciones, ButtonPlanEducativo, ButtonAdmision, ButtonContactarAsesor))),
		},
	}
}

func (b *Bot) planEducativo() flow.Flow {
	return flow.Flow{
		ID:       FlowPlanEducativo,
		Triggers: []flow.Trigger{flow.Keywords(ButtonPlanEducativo), flow.OnCustomEvent(EventSamples)},
		Next:     []string{FlowTipoAdmision},
		Steps: []flow.Step{
			flow.Say(models.NewText(msgPlanEducativo)),
			flow.Say(b.delayed(models.NewButtons(msgPlanSiguiente, ButtonAdmision, ButtonContactarAsesor))),
		},
	}
}

func (b *Bot) asesor() flow.Flow {
	return flow.Flow{
		ID:       FlowAsesor,
		Triggers: []flow.Trigger{flow.Keywords(ButtonContactarAsesor)},
		Steps:    []flow.Step{flow.Say(models.NewText(msgAsesor))},
	}
}

func (b *Bot) tipoAdmision() flow.Flow {
	return flow.Flow{
		ID:       FlowTipoAdmision,
		Triggers: []flow.Trigger{flow.Keywords(ButtonAdmision)},
		Next:     []string{FlowGradoNuevo, FlowGradoTraslado},
		Steps: []flow.Step{
			flow.Say(models.NewText(msgTipoAdmision)),
			flow.Say(b.delayed(models.NewButtons(msgTiposDetalle, ButtonNuevo, ButtonTraslado))),
		},
	}
}

func (b *Bot) gradoNuevo() flow.Flow {
	return flow.Flow{
		ID:       FlowGradoNuevo,
		Triggers: []flow.Trigger{flow.Keywords(ButtonNuevo)},
		Nested:   true,
		Next:     []string{FlowVacante},
		Steps: []flow.Step{
			setVar(VarTipoAdmision, "Nuevo"),
			flow.Say(gradeList(newStudentRows)),
		},
	}
}

func (b *Bot) gradoTraslado() flow.Flow {
	return flow.Flow{
		ID:       FlowGradoTraslado,
		Triggers: []flow.Trigger{flow.Keywords(ButtonTraslado)},
		Nested:   true,
		Next:     []string{FlowVacante},
		Steps: []flow.Step{
			setVar(VarTipoAdmision, "Traslado"),
			flow.Say(gradeList(len(gradeRows))),
		},
	}
}

func (b *Bot) vacante() flow.Flow {
	ids := make([]string, 0, len(gradeRows))
	for _, r := range gradeRows {
		ids = append(ids, r.ID)
	}
	return flow.Flow{
		ID:       FlowVacante,
		Triggers: []flow.Trigger{flow.Keywords(ids...)},
		Nested:   true,
		Next:     []string{FlowAdmision},
		Steps:    []flow.Step{flow.Do("consultar vacante", b.checkVacancy)},
	}
}

// checkVacancy asks the grades API whether the chosen grade has places left.
func (b *Bot) checkVacancy(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
	g, ok := gradeByID(sc.Body())
	if !ok {
		return flow.EndWith(msgErrorVacante), fmt.Errorf("unknown grade option %q", sc.Body())
	}

	res, err := b.grades.Query(ctx, lookup.Params{Path: b.opts.GradesPath})
	if err != nil {
		return flow.EndWith(msgErrorVacante), flow.External("query grades", err)
	}
	info, ok := res.Find(map[string]string{"nombre": g.Nombre, "nivel": g.Nivel})
	if !ok {
		return flow.EndWith(msgErrorVacante), flow.External("query grades", fmt.Errorf("grade %s missing from response", g))
	}

	sc.Session.Set(VarGrado, g.String())
	vacantes := info.Get("vacante").Int()
	slog.Debug("admission.checkVacancy: vacancy checked", "key", sc.Key(), "grade", g.String(), "vacantes", vacantes)
	if vacantes <= 0 {
		return flow.EndWith(fmt.Sprintf(msgSinVacante, g)), nil
	}
	if err := sc.Say(ctx, fmt.Sprintf(msgConVacante, g)); err != nil {
		return flow.Outcome{}, err
	}
	return flow.Goto(FlowAdmision), nil
}

func (b *Bot) yape() flow.Flow {
	content := models.NewText(msgPlazoPago)
	if b.opts.PaymentQRURL != "" {
		content = models.NewMedia(b.opts.PaymentQRURL, msgPlazoPago)
	}
	return flow.Flow{
		ID:       FlowYape,
		Triggers: []flow.Trigger{flow.OnCustomEvent(EventYape)},
		Steps:    []flow.Step{flow.Say(content)},
	}
}

// setVar stores a constant in the session.
func setVar(name string, value any) flow.Step {
	return flow.Do("set "+name, func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
		sc.Session.Set(name, value)
		return flow.Continue(), nil
	})
}
