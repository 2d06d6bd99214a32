package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testFields() []Field {
	return []Field{
		{Name: "about", Priority: 70, Question: "Расскажите о себе"},
		{Name: "salary", Priority: 30, Question: "Желаемый доход?"},
		{Name: "work_experience_intro", Label: "Опыт работы", Priority: 40, Question: "Добавим опыт?", GroupID: "work_experience"},
		{Name: "exp_position", Priority: 42, Question: "Должность?", GroupID: "work_experience"},
		{Name: "exp_company", Priority: 41, Question: "Компания?", GroupID: "work_experience", IsLast: false},
		{Name: "hobby", Priority: 30, Question: "Хобби?"},
		{Name: "skills_item", Priority: 60, Question: "Навык?", GroupID: "skills"},
	}
}

func TestNew_Ordering(t *testing.T) {
	s, err := New(testFields())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var names []string
	for _, n := range s.Nodes() {
		if n.Group != nil {
			names = append(names, n.Group.ID)
		} else {
			names = append(names, n.Field.Name)
		}
	}
	want := "salary,hobby,work_experience,skills,about"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("node order = %s, want %s", got, want)
	}

	g, ok := s.Group("work_experience")
	if !ok {
		t.Fatal("work_experience group missing")
	}
	if g.Intro == nil || g.Intro.Name != "work_experience_intro" {
		t.Errorf("intro = %+v, want work_experience_intro", g.Intro)
	}
	if g.Members[0].Name != "exp_company" || g.Members[1].Name != "exp_position" {
		t.Errorf("members = %s,%s, want exp_company,exp_position", g.Members[0].Name, g.Members[1].Name)
	}
	if g.Priority() != 40 {
		t.Errorf("group priority = %d, want 40", g.Priority())
	}
	if g.First().Name != "work_experience_intro" {
		t.Errorf("First() = %s, want work_experience_intro", g.First().Name)
	}
	if g.Label() != "Опыт работы" {
		t.Errorf("Label() = %q", g.Label())
	}
	if next, ok := g.MemberAfter("exp_company"); !ok || next.Name != "exp_position" {
		t.Errorf("MemberAfter(exp_company) = %s, %v", next.Name, ok)
	}
	if _, ok := g.MemberAfter("exp_position"); ok {
		t.Error("MemberAfter(last) should report false")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
	}{
		{"empty", nil},
		{"blank name", []Field{{Name: "", Priority: 1}}},
		{"duplicate", []Field{{Name: "a", Priority: 1}, {Name: "a", Priority: 2}}},
		{"group clashes with field", []Field{{Name: "g", Priority: 1}, {Name: "m", Priority: 2, GroupID: "g"}}},
		{"two intros", []Field{
			{Name: "g_intro", Priority: 1, GroupID: "g"},
			{Name: "x_intro", Priority: 2, GroupID: "g"},
			{Name: "m", Priority: 3, GroupID: "g"},
		}},
		{"intro only", []Field{{Name: "g_intro", Priority: 1, GroupID: "g"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.fields); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}

	if _, err := New(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("New(nil) error = %v, want ErrEmpty", err)
	}
}

func TestField_Askable(t *testing.T) {
	for q, want := range map[string]bool{"": false, "-": false, " - ": false, "Имя?": true} {
		if got := (Field{Question: q}).Askable(); got != want {
			t.Errorf("Askable(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Как вас зовут?", "Как вас зовут?"},
		{"<b>Имя</b> и фамилия", "Имя и фамилия"},
		{"Строка<br>вторая", "Строка\nвторая"},
		{"Опыт &amp; навыки", "Опыт & навыки"},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDescriptor(t *testing.T) {
	s, err := New(testFields())
	if err != nil {
		t.Fatal(err)
	}
	props := s.Descriptor()["properties"].(map[string]any)

	if _, ok := props["work_experience_intro"]; ok {
		t.Error("descriptor should not expose intro fields")
	}
	we, ok := props["work_experience"].(map[string]any)
	if !ok {
		t.Fatal("work_experience missing from descriptor")
	}
	if we["type"] != "array" {
		t.Errorf("group type = %v, want array", we["type"])
	}
	if _, ok := props["salary"].(map[string]any); !ok {
		t.Error("salary missing from descriptor")
	}
}

func TestExtractionSchema(t *testing.T) {
	s, err := New(testFields())
	if err != nil {
		t.Fatal(err)
	}
	props := s.ExtractionSchema()["properties"].(map[string]any)

	skills := props["skills"].(map[string]any)
	if items := skills["items"].(map[string]any); items["type"] != "string" {
		t.Errorf("single-member group items = %v, want string", items["type"])
	}
	we := props["work_experience"].(map[string]any)
	items := we["items"].(map[string]any)
	if items["type"] != "object" {
		t.Errorf("multi-member group items = %v, want object", items["type"])
	}
	inner := items["properties"].(map[string]any)
	if len(inner) != 2 {
		t.Errorf("work_experience item properties = %d, want 2", len(inner))
	}
}

const csvCatalog = `field_name,label,priority,template,inline_kb,multi_select,buttons,destination,group_id,is_last
first_name,Имя,10,Как вас зовут?,FALSE,FALSE,,,,
employment,Занятость,20,Какая занятость?,TRUE,TRUE,"[""Полная"",""Частичная""]",,,
,,,,,,,,,
exp_company,Компания,41,Где работали?,FALSE,FALSE,,,work_experience,FALSE
exp_position,Должность,42,Кем?,FALSE,FALSE,not json,,work_experience,true
`

func TestParseCSV(t *testing.T) {
	fields, err := ParseCSV(strings.NewReader(csvCatalog))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(fields) != 4 {
		t.Fatalf("got %d fields, want 4", len(fields))
	}
	emp := fields[1]
	if !emp.InlineKeyboard || !emp.MultiSelect {
		t.Errorf("employment flags = %v/%v, want true/true", emp.InlineKeyboard, emp.MultiSelect)
	}
	if len(emp.Choices) != 2 || emp.Choices[0] != "Полная" {
		t.Errorf("employment choices = %v", emp.Choices)
	}
	if fields[0].InlineKeyboard {
		t.Error("FALSE parsed as true")
	}
	if fields[3].Choices != nil {
		t.Errorf("malformed buttons = %v, want nil", fields[3].Choices)
	}
	if !fields[3].IsLast {
		t.Error("lower-case true should parse as true")
	}
}

func TestParseCSV_MissingColumn(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("label,priority\nA,1\n")); err == nil {
		t.Error("expected error for missing field_name column")
	}
}

const yamlCatalog = `questions:
  - field_name: first_name
    label: Имя
    priority: 10
    template: Как вас зовут?
  - field_name: salary
    priority: 30
    template: Желаемый доход?
`

func TestSource_ReloadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(yamlCatalog), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewSource(path, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if n := len(src.Schema().Fields()); n != 2 {
		t.Fatalf("fields = %d, want 2", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// A broken write keeps the old schema.
	if err := os.WriteFile(path, []byte("questions: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(reloadDebounce + 300*time.Millisecond)
	if n := len(src.Schema().Fields()); n != 2 {
		t.Fatalf("after broken write fields = %d, want 2", n)
	}

	updated := yamlCatalog + "  - field_name: about\n    priority: 70\n    template: О себе\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(src.Schema().Fields()) == 3 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("schema not reloaded: fields = %d, want 3", len(src.Schema().Fields()))
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for .txt catalog")
	}
}
