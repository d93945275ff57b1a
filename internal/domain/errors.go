package domain

import "errors"

// Erros expostos pelo núcleo de admissão. O chamador decide a política de
// fallback; o núcleo nunca converte falha de storage em "não banido" ou
// "não limitado".
var (
	// ErrStoreUnavailable indica falha de rede ou conexão com o storage.
	ErrStoreUnavailable = errors.New("admission store unavailable")

	// ErrProcedureFault indica que a procedure atômica falhou no servidor
	// (argumentos inválidos, erro de runtime ou tupla de retorno inesperada).
	ErrProcedureFault = errors.New("atomic procedure fault")

	// ErrMalformedRecord indica que um registro de ban armazenado não pôde
	// ser decodificado.
	ErrMalformedRecord = errors.New("malformed ban record")
)

// IsStoreError informa se o erro pertence a alguma das falhas do núcleo.
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrProcedureFault) ||
		errors.Is(err, ErrMalformedRecord)
}
