package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// NewOutputTo создаёт Output с заданными writer.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) error {
	if o.jsonMode {
		return o.JSON(jsonData)
	}
	return o.Table(headers, rows)
}

// Table выводит данные таблицей pterm.
func (o *Output) Table(headers []string, rows [][]string) error {
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, headers)
	data = append(data, rows...)
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(o.w).
		WithData(data).
		Render()
}

// Fields выводит пары ключ-значение (карточка одного объекта).
func (o *Output) Fields(fields [][2]string, jsonData any) error {
	if o.jsonMode {
		return o.JSON(jsonData)
	}
	rows := make(pterm.TableData, len(fields))
	for i, f := range fields {
		rows[i] = []string{pterm.Bold.Sprint(f[0]), f[1]}
	}
	return pterm.DefaultTable.WithWriter(o.w).WithData(rows).Render()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(format string, args ...any) {
	pterm.Success.WithWriter(o.errW).Println(fmt.Sprintf(format, args...))
}

// Warning выводит предупреждение в stderr.
func (o *Output) Warning(format string, args ...any) {
	pterm.Warning.WithWriter(o.errW).Println(fmt.Sprintf(format, args...))
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	pterm.Error.WithWriter(o.errW).Println(msg)
}
