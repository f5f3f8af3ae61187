package admission

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/models"
	"github.com/BTreeMap/DialogPipe/internal/records"
)

var (
	dniPattern    = regexp.MustCompile(`^\d+$`)
	correoPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

func (b *Bot) admision() flow.Flow {
	return flow.Flow{
		ID:   FlowAdmision,
		Next: []string{FlowValidarApoderado, FlowPrincipal},
		Steps: []flow.Step{
			flow.Say(models.NewText(msgDocumentos)),
			flow.Ask(b.delayed(models.NewButtons(msgIniciarAdmision, "Si", "No")), flow.Capture{},
				func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
					switch sc.Body() {
					case "Si":
						return flow.Goto(FlowValidarApoderado), nil
					case "No":
						return flow.Goto(FlowPrincipal), nil
					}
					return flow.FallbackContent(models.NewButtons(msgElegirSiNo, "Si", "No")), nil
				}),
		},
	}
}

func (b *Bot) validarApoderado() flow.Flow {
	return flow.Flow{
		ID:       FlowValidarApoderado,
		Triggers: []flow.Trigger{flow.OnCustomEvent(EventRegister)},
		Next:     []string{FlowEstudiante, FlowApoderado},
		Steps:    []flow.Step{flow.Do("buscar apoderado", b.findGuardian)},
	}
}

// findGuardian skips the guardian form when the phone number is already registered.
func (b *Bot) findGuardian(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
	telefono := sc.Key()
	existing, err := b.records.FindOne(ctx, KindApoderado, records.Fields{"telefono": telefono})
	if err != nil {
		return flow.Outcome{}, flow.External("find apoderado", err)
	}
	if existing == nil {
		return flow.Goto(FlowApoderado), nil
	}

	slog.Info("admission.findGuardian: guardian already registered", "key", telefono, "id", existing.ID)
	if err := sc.Say(ctx, fmt.Sprintf(msgApoderadoExistente, existing.String("nombre"), telefono)); err != nil {
		return flow.Outcome{}, err
	}
	sc.Session.Set(VarApoderadoID, existing.ID)
	return flow.Goto(FlowEstudiante), nil
}

func (b *Bot) apoderado() flow.Flow {
	return flow.Flow{
		ID:   FlowApoderado,
		Next: []string{FlowApoderadoFotoDNI},
		Steps: []flow.Step{
			flow.Ask(models.NewText(msgApoderadoDNI), flow.Capture{Var: VarDNI, Pattern: dniPattern, MismatchMessage: msgDNIInvalido}, nil),
			flow.Ask(models.NewText(msgApoderadoNombre), flow.Capture{Var: VarNombre}, nil),
			flow.Ask(models.NewText(msgApoderadoPaterno), flow.Capture{Var: VarApellidoPaterno}, nil),
			flow.Ask(models.NewText(msgApoderadoMaterno), flow.Capture{Var: VarApellidoMaterno}, nil),
			flow.Ask(models.NewText(msgApoderadoCorreo), flow.Capture{Var: VarCorreo, Pattern: correoPattern, MismatchMessage: msgCorreoInvalido}, nil),
			gotoStep(FlowApoderadoFotoDNI),
		},
	}
}

func (b *Bot) apoderadoFotoDNI() flow.Flow {
	return flow.Flow{
		ID:   FlowApoderadoFotoDNI,
		Next: []string{FlowEstudiante},
		Steps: []flow.Step{
			flow.Ask(models.NewText(msgApoderadoFoto), imageCapture(msgApoderadoFotoMal), b.saveGuardian),
		},
	}
}

// saveGuardian stores the ID photo, then the guardian record.
func (b *Bot) saveGuardian(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
	if !isImage(sc.Event) {
		return flow.Fallback(msgApoderadoFotoMal), nil
	}
	imageID, err := b.blobs.StoreAttachment(ctx, *sc.Event.Attachment)
	if err != nil {
		return flow.Outcome{}, flow.External("store guardian id photo", err)
	}

	s := sc.Session
	telefono := sc.Key()
	id, err := b.records.Save(ctx, KindApoderado, records.Fields{
		"dni":             s.GetString(VarDNI),
		"nombre":          s.GetString(VarNombre),
		"apellidoPaterno": s.GetString(VarApellidoPaterno),
		"apellidoMaterno": s.GetString(VarApellidoMaterno),
		"correo":          s.GetString(VarCorreo),
		"telefono":        telefono,
		"fecha":           b.opts.Now(),
		"imagen":          imageID,
	})
	if err != nil {
		return flow.Outcome{}, flow.External("save apoderado", err)
	}
	slog.Info("admission.saveGuardian: guardian registered", "key", telefono, "id", id)
	s.Set(VarApoderadoID, id)

	summary := fmt.Sprintf(msgApoderadoRegistro,
		s.GetString(VarDNI), s.GetString(VarNombre), s.GetString(VarApellidoPaterno),
		s.GetString(VarApellidoMaterno), s.GetString(VarCorreo), telefono)
	if err := sc.Say(ctx, summary); err != nil {
		slog.Warn("admission.saveGuardian: summary not delivered", "key", telefono, "error", err)
	}
	return flow.Goto(FlowEstudiante), nil
}

func (b *Bot) estudiante() flow.Flow {
	return flow.Flow{
		ID:   FlowEstudiante,
		Next: []string{FlowEstudianteFotoDNI},
		Steps: []flow.Step{
			flow.Say(models.NewText(msgEstudianteIntro)),
			flow.Ask(models.NewText(msgEstudianteDNI), flow.Capture{Var: VarDNIEstudiante, Pattern: dniPattern, MismatchMessage: msgDNIInvalido}, nil),
			flow.Ask(models.NewText(msgEstudianteNombre), flow.Capture{Var: VarNombreEstudiante}, nil),
			flow.Ask(models.NewText(msgEstudiantePaterno), flow.Capture{Var: VarApellidoPaternoEstudiante}, nil),
			flow.Ask(models.NewText(msgEstudianteMaterno), flow.Capture{Var: VarApellidoMaternoEstudiante}, nil),
			gotoStep(FlowEstudianteFotoDNI),
		},
	}
}

func (b *Bot) estudianteFotoDNI() flow.Flow {
	return flow.Flow{
		ID:   FlowEstudianteFotoDNI,
		Next: []string{FlowEstudianteFotoLibreta},
		Steps: []flow.Step{
			flow.Ask(models.NewText(msgEstudianteFoto), imageCapture(msgEstudianteFotoMal),
				func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
					if !isImage(sc.Event) {
						return flow.Fallback(msgEstudianteFotoMal), nil
					}
					imageID, err := b.blobs.StoreAttachment(ctx, *sc.Event.Attachment)
					if err != nil {
						return flow.Outcome{}, flow.External("store student id photo", err)
					}
					sc.Session.Set(VarImagenDNI, imageID)
					if err := sc.Say(ctx, msgDocumentoRegistrado); err != nil {
						return flow.Outcome{}, err
					}
					return flow.Goto(FlowEstudianteFotoLibreta), nil
				}),
		},
	}
}

func (b *Bot) estudianteFotoLibreta() flow.Flow {
	return flow.Flow{
		ID: FlowEstudianteFotoLibreta,
		Steps: []flow.Step{
			flow.Ask(models.NewText(msgLibreta), imageCapture(msgLibretaMal), b.saveStudent),
		},
	}
}

// saveStudent stores the report card photo, then the student record linked to its guardian.
func (b *Bot) saveStudent(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
	if !isImage(sc.Event) {
		return flow.Fallback(msgLibretaMal), nil
	}
	libretaID, err := b.blobs.StoreAttachment(ctx, *sc.Event.Attachment)
	if err != nil {
		return flow.Outcome{}, flow.External("store report card photo", err)
	}

	s := sc.Session
	id, err := b.records.Save(ctx, KindEstudiante, records.Fields{
		"dni":             s.GetString(VarDNIEstudiante),
		"nombre":          s.GetString(VarNombreEstudiante),
		"apellidoPaterno": s.GetString(VarApellidoPaternoEstudiante),
		"apellidoMaterno": s.GetString(VarApellidoMaternoEstudiante),
		"tipoAdmision":    s.GetString(VarTipoAdmision),
		"grado":           s.GetString(VarGrado),
		"apoderadoId":     s.GetString(VarApoderadoID),
		"fecha":           b.opts.Now(),
		"imagen":          s.GetString(VarImagenDNI),
		"imagenLibreta":   libretaID,
		"estadoAdmision":  EstadoPendiente,
		"pagoMatricula":   false,
	})
	if err != nil {
		return flow.Outcome{}, flow.External("save estudiante", err)
	}
	slog.Info("admission.saveStudent: student registered", "key", sc.Key(), "id", id, "grado", s.GetString(VarGrado))

	return flow.EndWith(fmt.Sprintf(msgEstudianteRegistro,
		s.GetString(VarDNIEstudiante), s.GetString(VarNombreEstudiante), s.GetString(VarApellidoPaternoEstudiante),
		s.GetString(VarApellidoMaternoEstudiante), s.GetString(VarGrado))), nil
}

func imageCapture(mismatch string) flow.Capture {
	return flow.Capture{Kind: flow.CaptureMedia, MismatchMessage: mismatch}
}

// isImage reports whether ev carries an image. A missing MIME type counts as one.
func isImage(ev models.Event) bool {
	if ev.Attachment == nil {
		return false
	}
	mime := ev.Attachment.MIMEType
	return mime == "" || strings.HasPrefix(mime, "image/")
}

// gotoStep hands off to the next flow once the previous captures are done.
func gotoStep(flowID string) flow.Step {
	return flow.Do("goto "+flowID, func(ctx context.Context, sc *flow.StepContext) (flow.Outcome, error) {
		return flow.Goto(flowID), nil
	})
}
