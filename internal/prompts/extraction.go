package prompts

import "fmt"

const extractionTemplate = `Ты извлекаешь данные резюме из текста документа или расшифровки голосового сообщения.
Заполни только те поля, значения которых явно есть в тексте. Ничего не выдумывай.
Повторяющиеся разделы (опыт работы, образование и т.п.) верни списком записей.

Схема полей:
%s`

// ExtractionPrompt returns the system instruction for structured
// extraction from free text. fields describes the available fields.
func ExtractionPrompt(fields string) string {
	return fmt.Sprintf(extractionTemplate, fields)
}
