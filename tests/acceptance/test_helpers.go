package acceptance

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
)

// FakeNote is one note with a single card in the fake collection.
type FakeNote struct {
	CardID int64
	NoteID int64
	Deck   string
	Front  string
	Back   string
}

// FakeAnkiConnect serves the subset of the AnkiConnect API the capture
// pipeline uses, backed by an in-memory collection.
type FakeAnkiConnect struct {
	*httptest.Server

	mu    sync.Mutex
	notes map[int64]*FakeNote
	media map[string][]byte
	fail  map[string]string
}

func NewFakeAnkiConnect(notes ...FakeNote) *FakeAnkiConnect {
	f := &FakeAnkiConnect{
		notes: map[int64]*FakeNote{},
		media: map[string][]byte{},
		fail:  map[string]string{},
	}
	for i := range notes {
		n := notes[i]
		f.notes[n.CardID] = &n
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// FailAction makes every call to action return an AnkiConnect error.
func (f *FakeAnkiConnect) FailAction(action, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if message == "" {
		delete(f.fail, action)
		return
	}
	f.fail[action] = message
}

func (f *FakeAnkiConnect) Front(cardID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes[cardID].Front
}

func (f *FakeAnkiConnect) Media() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.media))
	for k, v := range f.media {
		out[k] = v
	}
	return out
}

type request struct {
	Action  string          `json:"action"`
	Version int             `json:"version"`
	Params  json.RawMessage `json:"params"`
}

func (f *FakeAnkiConnect) handle(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if msg, ok := f.fail[req.Action]; ok {
		reply(w, nil, msg)
		return
	}

	switch req.Action {
	case "version":
		reply(w, 6, "")
	case "deckNames":
		reply(w, f.deckNames(), "")
	case "findCards":
		var p struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(req.Params, &p)
		reply(w, f.findCards(p.Query), "")
	case "cardsInfo":
		var p struct {
			Cards []int64 `json:"cards"`
		}
		_ = json.Unmarshal(req.Params, &p)
		reply(w, f.cardsInfo(p.Cards), "")
	case "storeMediaFile":
		var p struct {
			Filename string `json:"filename"`
			Data     string `json:"data"`
		}
		_ = json.Unmarshal(req.Params, &p)
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			reply(w, nil, "invalid base64")
			return
		}
		f.media[p.Filename] = data
		reply(w, p.Filename, "")
	case "updateNoteFields":
		var p struct {
			Note struct {
				ID     int64             `json:"id"`
				Fields map[string]string `json:"fields"`
			} `json:"note"`
		}
		_ = json.Unmarshal(req.Params, &p)
		if !f.updateNote(p.Note.ID, p.Note.Fields) {
			reply(w, nil, "note was not found: "+fmt.Sprint(p.Note.ID))
			return
		}
		reply(w, nil, "")
	default:
		reply(w, nil, "unsupported action")
	}
}

func (f *FakeAnkiConnect) deckNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range f.notes {
		if !seen[n.Deck] {
			seen[n.Deck] = true
			names = append(names, n.Deck)
		}
	}
	sort.Strings(names)
	return names
}

func (f *FakeAnkiConnect) findCards(query string) []int64 {
	deck := strings.TrimSuffix(strings.TrimPrefix(query, `deck:"`), `"`)
	ids := []int64{}
	for id, n := range f.notes {
		if n.Deck == deck {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *FakeAnkiConnect) cardsInfo(ids []int64) []map[string]interface{} {
	out := []map[string]interface{}{}
	for _, id := range ids {
		n, ok := f.notes[id]
		if !ok {
			continue
		}
		out = append(out, map[string]interface{}{
			"cardId":   n.CardID,
			"note":     n.NoteID,
			"deckName": n.Deck,
			"question": "<style>.card{}</style>" + n.Front,
			"answer":   n.Back,
			"fields": map[string]interface{}{
				"Front": map[string]interface{}{"value": n.Front, "order": 0},
				"Back":  map[string]interface{}{"value": n.Back, "order": 1},
			},
		})
	}
	return out
}

func (f *FakeAnkiConnect) updateNote(noteID int64, fields map[string]string) bool {
	found := false
	for _, n := range f.notes {
		if n.NoteID != noteID {
			continue
		}
		found = true
		if v, ok := fields["Front"]; ok {
			n.Front = v
		}
		if v, ok := fields["Back"]; ok {
			n.Back = v
		}
	}
	return found
}

func reply(w http.ResponseWriter, result interface{}, errMsg string) {
	body := map[string]interface{}{"result": result, "error": nil}
	if errMsg != "" {
		body["error"] = errMsg
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// WriteBlankPDF writes a document with one empty page per size in points.
func WriteBlankPDF(path string, sizes ...[2]float64) error {
	kids := make([]string, len(sizes))
	for i := range sizes {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(sizes)),
	}
	for _, s := range sizes {
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << >> >>", s[0], s[1]))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return os.WriteFile(path, buf.Bytes(), 0644)
}
