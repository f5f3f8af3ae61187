// Package admission is the school admission dialogue: main menu, vacancy
// check, guardian and student registration with document photos, and
// payment instructions. It only declares flows; the dispatcher runs them.
package admission

import (
	"time"

	"github.com/BTreeMap/DialogPipe/internal/api"
	"github.com/BTreeMap/DialogPipe/internal/blob"
	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/lookup"
	"github.com/BTreeMap/DialogPipe/internal/records"
)

// Flow ids.
const (
	FlowPrincipal             = "principal"
	FlowPlanEducativo         = "plan_educativo"
	FlowAsesor                = "asesor"
	FlowTipoAdmision          = "tipo_admision"
	FlowGradoNuevo            = "grado_nuevo"
	FlowGradoTraslado         = "grado_traslado"
	FlowVacante               = "vacante"
	FlowAdmision              = "admision"
	FlowValidarApoderado      = "validar_apoderado"
	FlowApoderado             = "apoderado"
	FlowApoderadoFotoDNI      = "apoderado_foto_dni"
	FlowEstudiante            = "estudiante"
	FlowEstudianteFotoDNI     = "estudiante_foto_dni"
	FlowEstudianteFotoLibreta = "estudiante_foto_libreta"
	FlowYape                  = "yape"
)

// Named events raised from the HTTP control surface.
const (
	EventYape     = "TRIGGER_YAPE"
	EventRegister = api.RegisterEvent
	EventSamples  = api.SamplesEvent
)

// Record kinds. They double as Mongo collection names.
const (
	KindApoderado  = "apoderados"
	KindEstudiante = "estudiantes"
)

// Session variables.
const (
	VarTipoAdmision              = "tipoAdmision"
	VarGrado                     = "grado"
	VarDNI                       = "dni"
	VarNombre                    = "nombre"
	VarApellidoPaterno           = "apellidoPaterno"
	VarApellidoMaterno           = "apellidoMaterno"
	VarCorreo                    = "correo"
	VarApoderadoID               = "apoderadoId"
	VarDNIEstudiante             = "dniEstudiante"
	VarNombreEstudiante          = "nombreEstudiante"
	VarApellidoPaternoEstudiante = "apellidoPaternoEstudiante"
	VarApellidoMaternoEstudiante = "apellidoMaternoEstudiante"
	VarImagenDNI                 = "imagenDNI"
)

const (
	// DefaultGradesPath is the vacancy endpoint queried by the vacante flow.
	DefaultGradesPath = "/api/grados"
	// DefaultPromptDelay is the pause before menus, so they arrive after the text above them.
	DefaultPromptDelay = 2 * time.Second
	// EstadoPendiente is the admission state of a freshly registered student.
	EstadoPendiente = "Pendiente"
)

// Opts configures the admission flows.
type Opts struct {
	PaymentQRURL string
	GradesPath   string
	PromptDelay  time.Duration
	Now          func() time.Time
}

// Option defines a configuration option for the admission flows.
type Option func(*Opts)

// WithPaymentQRURL sets the image sent with the payment instructions.
func WithPaymentQRURL(url string) Option {
	return func(o *Opts) {
		o.PaymentQRURL = url
	}
}

// WithGradesPath overrides the vacancy endpoint path.
func WithGradesPath(path string) Option {
	return func(o *Opts) {
		o.GradesPath = path
	}
}

// WithPromptDelay overrides the pause before menus. Tests use zero.
func WithPromptDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.PromptDelay = d
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Bot holds the adapters the admission handlers call.
type Bot struct {
	records records.Store
	blobs   blob.Transfer
	grades  lookup.Client
	opts    Opts
}

// New creates the admission bot.
func New(recs records.Store, blobs blob.Transfer, grades lookup.Client, opts ...Option) *Bot {
	cfg := Opts{GradesPath: DefaultGradesPath, PromptDelay: DefaultPromptDelay, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bot{records: recs, blobs: blobs, grades: grades, opts: cfg}
}

// Flows returns every admission flow in registration order.
func (b *Bot) Flows() []flow.Flow {
	return []flow.Flow{
		b.principal(),
		b.planEducativo(),
		b.asesor(),
		b.tipoAdmision(),
		b.gradoNuevo(),
		b.gradoTraslado(),
		b.vacante(),
		b.admision(),
		b.validarApoderado(),
		b.apoderado(),
		b.apoderadoFotoDNI(),
		b.estudiante(),
		b.estudianteFotoDNI(),
		b.estudianteFotoLibreta(),
		b.yape(),
	}
}

// Graph builds the flow graph.
func (b *Bot) Graph(opts ...flow.GraphOption) (*flow.Graph, error) {
	builder := flow.NewBuilder(opts...)
	if err := builder.RegisterAll(b.Flows()...); err != nil {
		return nil, err
	}
	return builder.Build()
}
