package proto

import (
	"strings"
)

// Server line prefixes.
const (
	PrefixOK             = "OK:"
	PrefixError          = "ERROR:"
	PrefixUserList       = "USERLIST:"
	PrefixHistory        = "HISTORIAL:"
	PrefixPrivateHistory = "HISTORIAL_PRIVADO:"
	PrefixFile           = "FILE:"
)

// Reply texts shown to users.
const (
	MsgLoginFormat        = "Formato de login inválido"
	MsgRegisterFormat     = "Formato de registro inválido"
	MsgPrivateFormat      = "Formato de mensaje privado inválido"
	MsgFileFormat         = "Formato de archivo inválido"
	MsgPrivateFileFormat  = "Formato de archivo privado inválido"
	MsgCommandFormat      = "Formato de comando inválido"
	MsgUnknownCommand     = "Comando no reconocido"
	MsgAlreadyConnected   = "Usuario ya conectado"
	MsgInvalidCredentials = "Usuario o contraseña incorrectos"
	MsgRegistered         = "Usuario registrado correctamente"
	MsgRegisterFailed     = "Usuario ya existe o error en el registro"
	MsgInvalidUsername    = "Nombre de usuario inválido (3-32 caracteres, sin espacios, ':' ni ',')"
	MsgInvalidPassword    = "Contraseña inválida (mínimo 4 caracteres, sin ':')"
	MsgProcessing         = "Error procesando mensaje"
	MsgGeneralCleared     = "Historial general borrado"
	MsgPrivateCleared     = "Historial privado borrado"
	MsgRateLimited        = "Demasiados mensajes"
	MsgFileTooLarge       = "Archivo demasiado grande"
	MsgFileNotFound       = "Archivo no encontrado"
	MsgConnectedAs        = "Conectado como "
)

// ImageMarker prefixes private bodies that carry inline image data.
// Such bodies are forwarded as ImagePlaceholder.
const (
	ImageMarker      = "[IMG]"
	ImagePlaceholder = "[imagen]"
)

// OK builds "OK: <text>".
func OK(text string) string {
	return PrefixOK + " " + text
}

// Error builds "ERROR: <text>".
func Error(text string) string {
	return PrefixError + " " + text
}

// FormatErrorText picks the user-facing text for a malformed command.
func FormatErrorText(kind Kind) string {
	switch kind {
	case KindLogin:
		return MsgLoginFormat
	case KindRegister:
		return MsgRegisterFormat
	case KindPrivate:
		return MsgPrivateFormat
	case KindFile:
		return MsgFileFormat
	case KindPrivateFile:
		return MsgPrivateFileFormat
	default:
		return MsgCommandFormat
	}
}

// UserList builds "USERLIST:a,b,c".
func UserList(names []string) string {
	return PrefixUserList + strings.Join(names, ",")
}

// History builds a general history line.
func History(entries []string) string {
	return PrefixHistory + EncodeBlob(entries)
}

// PrivateHistory builds a private history line.
func PrivateHistory(entries []string) string {
	return PrefixPrivateHistory + EncodeBlob(entries)
}

// Broadcast builds the line delivered to other sessions for a general message.
func Broadcast(sender, body string) string {
	return sender + ": " + body
}

// Private builds the line delivered to the recipient of a private message.
func Private(sender, body string) string {
	if strings.HasPrefix(body, ImageMarker) {
		body = ImagePlaceholder
	}
	return sender + " (privado): " + body
}

// File builds "FILE:<sender>:<name>:<base64>".
func File(sender, name, payload string) string {
	return PrefixFile + sender + ":" + name + ":" + payload
}

// Entries never contain a raw newline; any that slips in is flattened.
var blobEscaper = strings.NewReplacer(`\`, `\\`, "\n", " ", "\r", `\r`)

// EncodeBlob joins history entries into a single line. Entries are separated
// by the two-character sequence `\n`; backslashes inside entries are doubled.
func EncodeBlob(entries []string) string {
	escaped := make([]string, len(entries))
	for i, e := range entries {
		escaped[i] = blobEscaper.Replace(e)
	}
	return strings.Join(escaped, `\n`)
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(blob string) []string {
	if blob == "" {
		return nil
	}

	var (
		entries []string
		cur     strings.Builder
	)
	for i := 0; i < len(blob); i++ {
		c := blob[i]
		if c != '\\' || i+1 == len(blob) {
			cur.WriteByte(c)
			continue
		}
		i++
		switch blob[i] {
		case 'n':
			entries = append(entries, cur.String())
			cur.Reset()
		case 'r':
			cur.WriteByte('\r')
		default:
			cur.WriteByte(blob[i])
		}
	}
	return append(entries, cur.String())
}
