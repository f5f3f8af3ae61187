package admission

// User-facing copy.
const (
	msgBienvenida    = "👋 ¡Hola %s! Bienvenido al *Colegio Montessori*. Soy María, tu asesora virtual. 🤖"
	msgOpciones      = "Puedes seleccionar una de las *siguientes opciones*:"
	msgPlanEducativo = "📚 Nuestro *Plan Educativo* acompaña a cada estudiante desde Inicial hasta Secundaria con el método Montessori: aprendizaje activo, grupos reducidos y seguimiento personalizado."
	msgPlanSiguiente = "¿Qué deseas hacer ahora?"
	msgAsesor        = "¡Gracias por escribirnos! 🙋‍♀️ Un asesor se comunicará contigo a la brevedad."

	msgTipoAdmision = "Elige un *tipo de admisión* para poder continuar:"
	msgTiposDetalle = "*1. Nuevo estudiante* 👦🏻\nDirigido a estudiantes de inicial o 1° primaria que estudiarán por primera vez.\n\n" +
		"*2. Traslado estudiante* 🚌\nDirigido a estudiantes que pertenecen a otra institución e ingresarán a nuestro colegio."
	msgElegirGrado  = "Por favor, elige un *grado* para poder continuar. 🤗"
	msgConVacante   = "Muy bien, contamos con vacante disponible en *%s*. 🤗"
	msgSinVacante   = "Lo siento, no contamos con vacante disponible en *%s*. 😔"
	msgErrorVacante = "Ocurrió un error al verificar la disponibilidad de vacantes. 😔"

	msgDocumentos = "Antes de iniciar el *Proceso de Admisión*, asegúrate de tener a la mano los siguientes documentos:\n- *DNI del apoderado*\n- *DNI del estudiante*\n- *Libreta de notas del SIAGIE* \n\n" +
		"_Estos documentos son necesarios para completar el registro._"
	msgIniciarAdmision = "¿Deseas iniciar el *Proceso de Admisión*?"
	msgElegirSiNo      = "Por favor, elige *Si* o *No* para continuar."

	msgApoderadoExistente = "¡Perfecto, *%s*!\nYa tenemos registrados tus datos personales y número de teléfono 📱 *%s* como apoderado."
	msgApoderadoDNI       = "¡Perfecto! Para comenzar, necesito algunos datos personales.\nIngresa tu número de documento de identidad (DNI o CE):"
	msgApoderadoNombre    = "Ingresa tu nombre:"
	msgApoderadoPaterno   = "Ingresa tu apellido paterno:"
	msgApoderadoMaterno   = "Ingresa tu apellido materno:"
	msgApoderadoCorreo    = "Ingresa tu correo electrónico:"
	msgApoderadoFoto      = "Finalmente, necesito una foto de tu documento de identidad (DNI o CE). Por favor, envíala como una imagen adjunta."
	msgApoderadoFotoMal   = "El archivo enviado no es válido. Por favor, envía una imagen del documento de identidad (DNI)."
	msgApoderadoRegistro  = "¡Gracias! He registrado tus datos como apoderado con la siguiente información:\n- DNI: *%s*\n- Nombres: *%s*\n- Apellido Paterno: *%s*\n- Apellido Materno: *%s*\n- Correo: *%s*\n- Teléfono: *%s*\nEl documento también ha sido registrado correctamente. 🪪"

	msgDNIInvalido    = "El DNI ingresado no es válido. Por favor, ingresa solo números."
	msgCorreoInvalido = "El correo electrónico ingresado no es válido. Por favor, ingresa un correo válido."

	msgEstudianteIntro     = "Ahora vamos a continuar con los datos del estudiante para completar el *Proceso de Admisión*."
	msgEstudianteDNI       = "Ingresa el número de documento de identidad del estudiante (DNI o CE):"
	msgEstudianteNombre    = "Ingresa el nombre del estudiante:"
	msgEstudiantePaterno   = "Ingresa el apellido paterno del estudiante:"
	msgEstudianteMaterno   = "Ingresa el apellido materno del estudiante:"
	msgEstudianteFoto      = "Ahora necesito una foto del documento de identidad (DNI o CE) del estudiante. Por favor, envíala como una imagen adjunta."
	msgEstudianteFotoMal   = "El archivo enviado no es válido. Por favor, envía una imagen del documento de identidad (DNI o CE) del estudiante."
	msgDocumentoRegistrado = "Documento registrado. ✅"
	msgLibreta             = "Finalmente, necesito una foto de la *Libreta de notas del SIAGIE*. Por favor, envíala como una imagen adjunta."
	msgLibretaMal          = "El archivo enviado no es válido. Por favor, envía una imagen de la *Libreta de notas del SIAGIE*."
	msgEstudianteRegistro  = "¡Gracias! He registrado los datos del estudiante con la siguiente información:\n- DNI: *%s*\n- Nombres: *%s*\n- Apellido Paterno: *%s*\n- Apellido Materno: *%s*\n- Grado: *%s*\nLos documentos también han sido registrados correctamente. 🪪📃"
	msgPlazoPago           = "_🔔 El plazo máximo para efectuar el pago es de 24 horas._"
)
