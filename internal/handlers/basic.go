package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/Guti2010/compute-server/internal/resp"
)

// ===============================================================
//  Handlers básicos (sin bloqueo prolongado)
//  - Cada handler exportado devuelve resp.Result (con código HTTP,
//    body y formato) y valida parámetros.
//  - La lógica “pura” está en funciones core no exportadas,
//    fáciles de testear y reusar.
// ===============================================================

// -------------------------------------------------
// Helpers "core" (puros) — NO exportados
//   * No hacen validaciones ni devuelven resp.Result.
//   * No conocen de HTTP ni de errores de usuario.
// -------------------------------------------------

// timestampCore construye un JSON con epoch Unix y fecha UTC.
// No valida nada ni conoce de HTTP.
func timestampCore() string {
	now := time.Now().UTC()
	out := map[string]any{
		"unix": now.Unix(),
		"utc":  now.Format(time.RFC3339),
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// reverseCore invierte el texto como runas (UTF-8 seguro) y agrega "\n".
func reverseCore(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r) + "\n"
}

// toUpperCore convierte a MAYÚSCULAS y agrega "\n".
func toUpperCore(s string) string {
	return strings.ToUpper(s) + "\n"
}

// hashCore calcula SHA-256 del texto y lo devuelve como JSON {algo, hex}.
func hashCore(text string) string {
	sum := sha256.Sum256([]byte(text))
	b, _ := json.Marshal(map[string]string{
		"algo": "sha256",
		"hex":  hex.EncodeToString(sum[:]),
	})
	return string(b)
}

// randomCore genera n enteros uniformes en [min, max] y los devuelve en JSON.
// PRECONDICIONES (garantizadas por el wrapper):
//   - n >= 1
//   - min <= max
func randomCore(n, min, max int) string {
	rand.Seed(time.Now().UnixNano())
	arr := make([]int, n)
	span := max - min + 1
	for i := 0; i < n; i++ {
		arr[i] = rand.Intn(span) + min
	}
	b, _ := json.Marshal(map[string]any{"values": arr})
	return string(b)
}

// fibonacciCore devuelve el N-ésimo Fibonacci como string con "\n".
// Complejidad O(n) y espacio O(1).
// PRECONDICIÓN: n >= 0 (el wrapper valida).
func fibonacciCore(n int) string {
	if n < 0 {
		// Mensaje defensivo si alguien llama core sin validar.
		return "error: num debe ser >=0\n"
	}
	if n == 0 {
		return "0\n"
	}
	if n == 1 {
		return "1\n"
	}
	a, b := 0, 1
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return fmt.Sprintf("%d\n", b)
}

// -------------------------------------------------
// API principal (exportada) — lo que llama el router
//   * Siempre valida parámetros.
//   * Devuelve resp.Result con códigos y mensajes coherentes.
// -------------------------------------------------

// Timestamp devuelve JSON con epoch y UTC.
// 200 + JSON; no requiere parámetros.
func Timestamp(_ map[string]string) resp.Result {
	return resp.JSONOK(timestampCore())
}

// Reverse invierte el texto recibido en ?text=... (UTF-8 seguro).
// Errores:
//   - 400 missing_param si falta text.
func Reverse(params map[string]string) resp.Result {
	txt, ok := params["text"]
	if !ok {
		return resp.BadReq("missing_param", "text is required")
	}
	return resp.PlainOK(reverseCore(txt))
}

// ToUpper convierte a MAYÚSCULAS el parámetro ?text=...
// Errores:
//   - 400 missing_param si falta text.
func ToUpper(params map[string]string) resp.Result {
	txt, ok := params["text"]
	if !ok {
		return resp.BadReq("missing_param", "text is required")
	}
	return resp.PlainOK(toUpperCore(txt))
}

// Hash calcula SHA-256 del parámetro ?text=... y devuelve JSON con {algo, hex}.
// Errores:
//   - 400 missing_param si falta text.
func Hash(params map[string]string) resp.Result {
	txt, ok := params["text"]
	if !ok {
		return resp.BadReq("missing_param", "text is required")
	}
	return resp.JSONOK(hashCore(txt))
}

// Random genera count enteros en el rango [min, max].
// Reglas y errores:
//   - count requerido, entero >= 1 → 400 si no.
//   - min requerido, entero        → 400 si no.
//   - max requerido, entero        → 400 si no.
//   - min <= max                   → 400 "range" si no.
// 200 + JSON {values:[...] } si todo OK.
func Random(params map[string]string) resp.Result {
	cStr, ok := params["count"]
	if !ok {
		return resp.BadReq("count", "count is required (integer >= 1)")
	}
	count, err := strconv.Atoi(cStr)
	if err != nil || count < 1 {
		return resp.BadReq("count", "must be integer >= 1")
	}

	minStr, ok := params["min"]
	if !ok {
		return resp.BadReq("min", "min is required (integer)")
	}
	min, err := strconv.Atoi(minStr)
	if err != nil {
		return resp.BadReq("min", "min must be integer")
	}

	maxStr, ok := params["max"]
	if !ok {
		return resp.BadReq("max", "max is required (integer)")
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil {
		return resp.BadReq("max", "max must be integer")
	}
	if min > max {
		return resp.BadReq("range", "min must be <= max")
	}

	return resp.JSONOK(randomCore(count, min, max))
}

// Fibonacci devuelve el n-ésimo número de Fibonacci como texto terminado en "\n".
// Reglas y errores:
//   - num requerido, entero >= 0 → 400 si no.
// 200 + texto plano si OK.
func Fibonacci(params map[string]string) resp.Result {
	v, ok := params["num"]
	if !ok {
		return resp.BadReq("missing_param", "num is required")
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return resp.BadReq("num", "num must be integer >= 0")
	}
	return resp.PlainOK(fibonacciCore(n))
}
