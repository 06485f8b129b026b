package apierror

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys used in the translation catalog.
const (
	KeyNetwork     = "error.network"
	KeyTimeout     = "error.timeout"
	KeyServer      = "error.server"
	KeyValidation  = "error.validation"
	KeyParse       = "error.parse"
	KeyCredential  = "error.credential"
	KeyAlreadyUsed = "error.already_used"
	KeyUnknown     = "error.unknown"
)

// statusKey returns the catalog key for an explicitly handled status.
func statusKey(code int) string {
	return "error.status." + strconv.Itoa(code)
}

var supported = []language.Tag{
	language.English,
	language.Spanish,
}

var messages = map[language.Tag]map[string]string{
	language.English: {
		statusKey(http.StatusBadRequest):   "The request was invalid. Please check the details and try again.",
		statusKey(http.StatusUnauthorized): "Your session has expired. Please sign in again.",
		statusKey(http.StatusForbidden):    "You don't have permission to do that.",
		statusKey(http.StatusNotFound):     "We couldn't find what you were looking for.",
		statusKey(http.StatusConflict):     "This conflicts with an existing record.",
		statusKey(http.StatusGone):         "This is no longer available.",
		KeyServer:                          "Something went wrong on our side. Please try again shortly.",
		KeyNetwork:                         "Unable to reach the server. Check your connection and try again.",
		KeyTimeout:                         "The request took too long. Please try again.",
		KeyValidation:                      "Some required information is missing.",
		KeyParse:                           "We received an unexpected response.",
		KeyCredential:                      "You need to sign in to continue.",
		KeyAlreadyUsed:                     "This code has already been used.",
		KeyUnknown:                         "Something went wrong. Please try again.",
	},
	language.Spanish: {
		statusKey(http.StatusBadRequest):   "La solicitud no es válida. Revisa los datos e inténtalo de nuevo.",
		statusKey(http.StatusUnauthorized): "Tu sesión ha caducado. Vuelve a iniciar sesión.",
		statusKey(http.StatusForbidden):    "No tienes permiso para hacer eso.",
		statusKey(http.StatusNotFound):     "No encontramos lo que buscabas.",
		statusKey(http.StatusConflict):     "Esto entra en conflicto con un registro existente.",
		statusKey(http.StatusGone):         "Esto ya no está disponible.",
		KeyServer:                          "Algo salió mal de nuestro lado. Inténtalo de nuevo en breve.",
		KeyNetwork:                         "No se pudo conectar con el servidor. Revisa tu conexión.",
		KeyTimeout:                         "La solicitud tardó demasiado. Inténtalo de nuevo.",
		KeyValidation:                      "Falta información obligatoria.",
		KeyParse:                           "Recibimos una respuesta inesperada.",
		KeyCredential:                      "Debes iniciar sesión para continuar.",
		KeyAlreadyUsed:                     "Este código ya fue utilizado.",
		KeyUnknown:                         "Algo salió mal. Inténtalo de nuevo.",
	},
}

// Override inspects a classified error and may select a different catalog
// key. Overrides are consulted in order before the status table.
type Override func(e *Error) (key string, ok bool)

// Translator maps errors to user-facing messages.
type Translator struct {
	printer   *message.Printer
	overrides []Override
}

// NewTranslator creates a translator for the closest supported language to
// tag. Unsupported languages fall back to English.
func NewTranslator(tag language.Tag, overrides ...Override) *Translator {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for lang, entries := range messages {
		for key, msg := range entries {
			// keys and messages are static; an error here is a programming error
			if err := builder.SetString(lang, key, msg); err != nil {
				panic(err)
			}
		}
	}

	_, idx, _ := language.NewMatcher(supported).Match(tag)

	return &Translator{
		printer:   message.NewPrinter(supported[idx], message.Catalog(builder)),
		overrides: overrides,
	}
}

// With returns a copy of the translator with additional overrides, applied
// after the existing ones.
func (t *Translator) With(overrides ...Override) *Translator {
	combined := make([]Override, 0, len(t.overrides)+len(overrides))
	combined = append(combined, t.overrides...)
	combined = append(combined, overrides...)

	return &Translator{
		printer:   t.printer,
		overrides: combined,
	}
}

// Message returns the user-facing message for err. A nil error yields "".
func (t *Translator) Message(err error) string {
	if err == nil {
		return ""
	}

	e, ok := As(err)
	if !ok {
		return t.printer.Sprintf(KeyUnknown)
	}

	for _, o := range t.overrides {
		if key, ok := o(e); ok {
			return t.printer.Sprintf(key)
		}
	}

	return t.printer.Sprintf(Key(e))
}

// Key returns the catalog key for a classified error, without overrides.
func Key(e *Error) string {
	switch e.Kind {
	case KindNetwork:
		return KeyNetwork
	case KindTimeout:
		return KeyTimeout
	case KindValidation:
		return KeyValidation
	case KindParse:
		return KeyParse
	case KindCredential:
		return KeyCredential
	case KindHTTP:
		switch {
		case e.StatusCode >= http.StatusInternalServerError:
			return KeyServer
		case classifyStatus(e.StatusCode) != nil:
			return statusKey(e.StatusCode)
		}
	}
	return KeyUnknown
}

var alreadyUsedKeywords = []string{
	"already used",
	"already redeemed",
	"already_used",
}

// AlreadyUsed detects a consumed scannable token, either from a 409/410
// status or from a keyword in the error body.
func AlreadyUsed(e *Error) (string, bool) {
	if e.Kind != KindHTTP {
		return "", false
	}

	if errors.Is(e, ErrConflict) || errors.Is(e, ErrGone) {
		return KeyAlreadyUsed, true
	}

	body := strings.ToLower(e.Body)
	for _, kw := range alreadyUsedKeywords {
		if strings.Contains(body, kw) {
			return KeyAlreadyUsed, true
		}
	}

	return "", false
}
