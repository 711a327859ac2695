package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

// Worksheet names used by the health unit's spreadsheet
const (
	DefaultSessionsTab     = "Página4"
	DefaultSlotsTab        = "horario disponivel para agendam"
	DefaultStreetsTab      = "acs por rua"
	DefaultAppointmentsTab = "consultas"
)

const sheetTimestampLayout = "02/01/2006 15:04:05"

// SheetsOptions configures SheetsStore.
type SheetsOptions struct {
	CredentialsFile string
	SpreadsheetKey  string

	SessionsTab     string
	SlotsTab        string
	StreetsTab      string
	AppointmentsTab string
}

func (o *SheetsOptions) applyDefaults() {
	if o.SessionsTab == "" {
		o.SessionsTab = DefaultSessionsTab
	}
	if o.SlotsTab == "" {
		o.SlotsTab = DefaultSlotsTab
	}
	if o.StreetsTab == "" {
		o.StreetsTab = DefaultStreetsTab
	}
	if o.AppointmentsTab == "" {
		o.AppointmentsTab = DefaultAppointmentsTab
	}
}

// cellWrite is a single-cell update, Row is 1-based like the sheet UI.
type cellWrite struct {
	Tab    string
	Row    int
	Column int
	Value  string
}

// sheetValues is the subset of the Sheets values API the store needs.
type sheetValues interface {
	Read(ctx context.Context, tab string) ([][]interface{}, error)
	Write(ctx context.Context, cells []cellWrite) error
	Append(ctx context.Context, tab string, row []interface{}) (int, error)
	Ping(ctx context.Context) error
}

// SheetsStore implements Store on a Google spreadsheet. Each worksheet is
// read whole on every call, with the first row as header. Writes that
// depend on a previous read are serialized inside this process only.
type SheetsStore struct {
	opts   SheetsOptions
	values sheetValues
	mu     sync.Mutex
}

// NewSheetsStore connects to the Sheets API once and reuses the client
// across requests.
func NewSheetsStore(ctx context.Context, opts SheetsOptions) (*SheetsStore, error) {
	if opts.SpreadsheetKey == "" {
		return nil, errors.New("sheets: spreadsheet key is required")
	}
	if opts.CredentialsFile == "" {
		return nil, errors.New("sheets: credentials file is required")
	}
	opts.applyDefaults()

	client := &sheetsClient{
		key: opts.SpreadsheetKey,
		connect: func(ctx context.Context) (*sheets.Service, error) {
			return sheets.NewService(ctx,
				option.WithCredentialsFile(opts.CredentialsFile),
				option.WithScopes(sheets.SpreadsheetsScope),
			)
		},
	}
	if _, err := client.service(ctx); err != nil {
		return nil, err
	}
	return newSheetsStore(opts, client), nil
}

func newSheetsStore(opts SheetsOptions, values sheetValues) *SheetsStore {
	opts.applyDefaults()
	return &SheetsStore{opts: opts, values: values}
}

// Session operations

// GetSessionByPhone treats the last matching row as authoritative, so
// sheets that already hold duplicate rows keep working.
func (s *SheetsStore) GetSessionByPhone(ctx context.Context, phone string) (*models.Session, error) {
	table, err := s.readTable(ctx, s.opts.SessionsTab)
	if err != nil {
		return nil, err
	}
	session := table.lastSession(phone)
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *SheetsStore) CreateSession(ctx context.Context, phone string, stage models.Stage) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readTable(ctx, s.opts.SessionsTab)
	if err != nil {
		return nil, false, err
	}
	if existing := table.lastSession(phone); existing != nil {
		return existing, false, nil
	}
	if err := s.ensureHeader(ctx, s.opts.SessionsTab, table, sessionHeader); err != nil {
		return nil, false, err
	}

	now := time.Now()
	row := table.newRow(sessionColumns, map[string]string{
		colPhone:      phone,
		colStage:      string(stage),
		colUpdatedAt:  now.Format(sheetTimestampLayout),
		colLastChoice: "",
	})
	rowNumber, err := s.values.Append(ctx, s.opts.SessionsTab, row)
	if err != nil {
		return nil, false, fmt.Errorf("sheets: append session: %w", err)
	}

	session := &models.Session{
		Ref:         uuid.NewString(),
		PhoneNumber: phone,
		Stage:       stage,
		LastUpdated: now,
	}
	session.ID = uint(rowNumber)
	return session, true, nil
}

func (s *SheetsStore) UpdateSessionStage(ctx context.Context, phone string, from, to models.Stage, choice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readTable(ctx, s.opts.SessionsTab)
	if err != nil {
		return err
	}
	session := table.lastSession(phone)
	if session == nil {
		return ErrNotFound
	}
	if session.Stage != from {
		return ErrStageConflict
	}

	row := int(session.ID)
	cells := []cellWrite{
		{Tab: s.opts.SessionsTab, Row: row, Column: table.column(colStage, 1), Value: string(to)},
		{Tab: s.opts.SessionsTab, Row: row, Column: table.column(colUpdatedAt, 2), Value: time.Now().Format(sheetTimestampLayout)},
		{Tab: s.opts.SessionsTab, Row: row, Column: table.column(colLastChoice, 3), Value: choice},
	}
	if err := s.values.Write(ctx, cells); err != nil {
		return fmt.Errorf("sheets: update session: %w", err)
	}
	return nil
}

// Catalog operations

func (s *SheetsStore) ListSlots(ctx context.Context, examType, status string) ([]*models.Slot, error) {
	table, err := s.readTable(ctx, s.opts.SlotsTab)
	if err != nil {
		return nil, err
	}
	var slots []*models.Slot
	for i := range table.rows {
		slot := table.slot(i)
		if !strings.EqualFold(slot.ExamType, examType) || !strings.EqualFold(slot.Status, status) {
			continue
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (s *SheetsStore) ReserveSlot(ctx context.Context, slotID uint) error {
	return s.setSlotStatus(ctx, slotID, true)
}

func (s *SheetsStore) ReleaseSlot(ctx context.Context, slotID uint) error {
	return s.setSlotStatus(ctx, slotID, false)
}

func (s *SheetsStore) setSlotStatus(ctx context.Context, slotID uint, reserve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readTable(ctx, s.opts.SlotsTab)
	if err != nil {
		return err
	}
	index, ok := table.indexOf(slotID)
	if !ok {
		return ErrNotFound
	}

	status := models.SlotStatusFree
	if reserve {
		if !table.slot(index).IsFree() {
			return ErrSlotTaken
		}
		status = models.SlotStatusTaken
	}
	cell := cellWrite{Tab: s.opts.SlotsTab, Row: int(slotID), Column: table.column(colStatus, 1), Value: status}
	if err := s.values.Write(ctx, []cellWrite{cell}); err != nil {
		return fmt.Errorf("sheets: update slot: %w", err)
	}
	return nil
}

func (s *SheetsStore) ListStreetContacts(ctx context.Context) ([]*models.StreetContact, error) {
	table, err := s.readTable(ctx, s.opts.StreetsTab)
	if err != nil {
		return nil, err
	}
	var streets []*models.StreetContact
	for i := range table.rows {
		street := table.street(i)
		if street.Street == "" {
			continue
		}
		streets = append(streets, street)
	}
	return streets, nil
}

// Appointment operations

func (s *SheetsStore) ListAppointments(ctx context.Context) ([]*models.Appointment, error) {
	table, err := s.readTable(ctx, s.opts.AppointmentsTab)
	if err != nil {
		return nil, err
	}
	appointments := make([]*models.Appointment, 0, len(table.rows))
	for i := range table.rows {
		appointments = append(appointments, table.appointment(i))
	}
	return appointments, nil
}

func (s *SheetsStore) CreateAppointment(ctx context.Context, appointment *models.Appointment) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readTable(ctx, s.opts.AppointmentsTab)
	if err != nil {
		return nil, err
	}
	if err := s.ensureHeader(ctx, s.opts.AppointmentsTab, table, appointmentHeader); err != nil {
		return nil, err
	}
	row := table.newRow(appointmentColumns, map[string]string{
		colName:     appointment.PatientName,
		colPhone:    appointment.Phone,
		colLocation: appointment.Location,
		colDate:     appointment.Date,
		colTime:     appointment.Time,
		colType:     appointment.ExamType,
		colStatus:   appointment.Status,
	})
	rowNumber, err := s.values.Append(ctx, s.opts.AppointmentsTab, row)
	if err != nil {
		return nil, fmt.Errorf("sheets: append appointment: %w", err)
	}

	stored := *appointment
	stored.ID = uint(rowNumber)
	if stored.Ref == "" {
		stored.Ref = uuid.NewString()
	}
	return &stored, nil
}

func (s *SheetsStore) UpdateAppointmentStatus(ctx context.Context, id uint, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.readTable(ctx, s.opts.AppointmentsTab)
	if err != nil {
		return err
	}
	index, ok := table.indexOf(id)
	if !ok {
		return ErrNotFound
	}
	if !strings.EqualFold(table.appointment(index).Status, from) {
		return ErrStatusConflict
	}
	cell := cellWrite{Tab: s.opts.AppointmentsTab, Row: int(id), Column: table.column(colStatus, 8), Value: to}
	if err := s.values.Write(ctx, []cellWrite{cell}); err != nil {
		return fmt.Errorf("sheets: update appointment: %w", err)
	}
	return nil
}

// Ping fetches the spreadsheet metadata.
func (s *SheetsStore) Ping(ctx context.Context) error {
	return s.values.Ping(ctx)
}

// ensureHeader writes the column titles to a blank worksheet, otherwise the
// first appended row would be read back as the header.
func (s *SheetsStore) ensureHeader(ctx context.Context, tab string, table *sheetTable, titles []string) error {
	if table.width > 0 || len(table.rows) > 0 {
		return nil
	}
	header := make([]interface{}, len(titles))
	for i, title := range titles {
		header[i] = title
	}
	if _, err := s.values.Append(ctx, tab, header); err != nil {
		return fmt.Errorf("sheets: write %s header: %w", tab, err)
	}
	*table = *newSheetTable([][]interface{}{header})
	return nil
}

func (s *SheetsStore) readTable(ctx context.Context, tab string) (*sheetTable, error) {
	values, err := s.values.Read(ctx, tab)
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", tab, err)
	}
	return newSheetTable(values), nil
}

// Column headers, compared case-insensitively
const (
	colPhone      = "telefone"
	colStage      = "últimaetapa"
	colUpdatedAt  = "últimaatualização"
	colLastChoice = "últimaescolha"
	colType       = "tipo"
	colStatus     = "status"
	colDate       = "data"
	colTime       = "hora"
	colLocation   = "unidade"
	colStreet     = "rua"
	colAgent      = "acs"
	colName       = "nome"
)

var (
	sessionColumns     = []string{colPhone, colStage, colUpdatedAt, colLastChoice}
	appointmentColumns = []string{colName, colPhone, colLocation, colDate, colTime, colType, colStatus}

	// Titles written to a blank worksheet, same order as the columns above.
	sessionHeader     = []string{"Telefone", "ÚltimaEtapa", "ÚltimaAtualização", "ÚltimaEscolha"}
	appointmentHeader = []string{"Nome", "Telefone", "Unidade", "Data", "Hora", "Tipo", "Status"}
)

// sheetTable is a worksheet split into a header index and data rows.
// Data row i lives on sheet row i+2.
type sheetTable struct {
	header map[string]int
	width  int
	rows   [][]string
}

func newSheetTable(values [][]interface{}) *sheetTable {
	t := &sheetTable{header: make(map[string]int)}
	if len(values) == 0 {
		return t
	}
	for i, cell := range values[0] {
		name := strings.ToLower(strings.TrimSpace(fmt.Sprint(cell)))
		if name == "" {
			continue
		}
		if _, dup := t.header[name]; !dup {
			t.header[name] = i
		}
	}
	t.width = len(values[0])
	for _, raw := range values[1:] {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = strings.TrimSpace(fmt.Sprint(cell))
		}
		t.rows = append(t.rows, row)
	}
	return t
}

// column returns the 0-based index of a header, or fallback when absent.
func (t *sheetTable) column(name string, fallback int) int {
	if i, ok := t.header[name]; ok {
		return i
	}
	return fallback
}

func (t *sheetTable) value(index int, name string, fallback int) string {
	row := t.rows[index]
	col := t.column(name, fallback)
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func (t *sheetTable) indexOf(rowNumber uint) (int, bool) {
	index := int(rowNumber) - 2
	if index < 0 || index >= len(t.rows) {
		return 0, false
	}
	return index, true
}

// newRow lays values out in header order. Columns missing from the header
// are appended after the known ones in the order of defaults.
func (t *sheetTable) newRow(defaults []string, values map[string]string) []interface{} {
	width := t.width
	positions := make(map[string]int, len(defaults))
	next := width
	for i, name := range defaults {
		if col, ok := t.header[name]; ok {
			positions[name] = col
			continue
		}
		if width == 0 {
			positions[name] = i
			continue
		}
		positions[name] = next
		next++
	}
	size := next
	if width == 0 {
		size = len(defaults)
	}
	row := make([]interface{}, size)
	for i := range row {
		row[i] = ""
	}
	for name, col := range positions {
		row[col] = values[name]
	}
	return row
}

func (t *sheetTable) lastSession(phone string) *models.Session {
	phone = strings.TrimSpace(phone)
	for i := len(t.rows) - 1; i >= 0; i-- {
		if t.value(i, colPhone, 0) != phone {
			continue
		}
		session := &models.Session{
			PhoneNumber: phone,
			Stage:       models.Stage(t.value(i, colStage, 1)),
			LastChoice:  t.value(i, colLastChoice, 3),
		}
		if session.Stage == "" {
			session.Stage = models.StageInitialMenu
		}
		if updated, err := time.ParseInLocation(sheetTimestampLayout, t.value(i, colUpdatedAt, 2), time.Local); err == nil {
			session.LastUpdated = updated
		}
		session.ID = uint(i + 2)
		return session
	}
	return nil
}

func (t *sheetTable) slot(index int) *models.Slot {
	slot := &models.Slot{
		ExamType: t.value(index, colType, 0),
		Status:   t.value(index, colStatus, 1),
		Date:     t.value(index, colDate, 2),
		Time:     t.value(index, colTime, 3),
		Location: t.value(index, colLocation, 4),
	}
	slot.ID = uint(index + 2)
	return slot
}

func (t *sheetTable) street(index int) *models.StreetContact {
	street := &models.StreetContact{
		Street:    t.value(index, colStreet, 0),
		AgentName: t.value(index, colAgent, 1),
		Phone:     t.value(index, colPhone, 2),
	}
	street.ID = uint(index + 2)
	return street
}

func (t *sheetTable) appointment(index int) *models.Appointment {
	appointment := &models.Appointment{
		PatientName: t.value(index, colName, 0),
		Phone:       t.value(index, colPhone, 1),
		Location:    t.value(index, colLocation, 2),
		Date:        t.value(index, colDate, 3),
		Time:        t.value(index, colTime, 4),
		ExamType:    t.value(index, colType, -1),
		Status:      t.value(index, colStatus, 8),
	}
	appointment.ID = uint(index + 2)
	return appointment
}

// columnName converts a 0-based column index to A1 letters (0 -> A, 26 -> AA).
func columnName(index int) string {
	name := ""
	for index >= 0 {
		name = string(rune('A'+index%26)) + name
		index = index/26 - 1
	}
	return name
}

// quoteTab quotes a worksheet name for A1 notation.
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func cellRange(tab string, row, column int) string {
	return fmt.Sprintf("%s!%s%d", quoteTab(tab), columnName(column), row)
}

var updatedRowPattern = regexp.MustCompile(`![A-Z]+(\d+)`)

// parseUpdatedRow extracts the first row number from an A1 range such as
// 'Página4'!A7:D7.
func parseUpdatedRow(a1 string) (int, error) {
	match := updatedRowPattern.FindStringSubmatch(a1)
	if match == nil {
		return 0, fmt.Errorf("sheets: unexpected updated range %q", a1)
	}
	return strconv.Atoi(match[1])
}

// sheetsClient talks to the Sheets API, holding one service for the life
// of the process and reconnecting after auth or transport failures.
type sheetsClient struct {
	key     string
	connect func(ctx context.Context) (*sheets.Service, error)

	mu    sync.RWMutex
	svc   *sheets.Service
	group singleflight.Group
}

func (c *sheetsClient) service(ctx context.Context) (*sheets.Service, error) {
	c.mu.RLock()
	svc := c.svc
	c.mu.RUnlock()
	if svc != nil {
		return svc, nil
	}

	v, err, _ := c.group.Do("connect", func() (interface{}, error) {
		svc, err := c.connect(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("sheets: connect: %w", err)
		}
		c.mu.Lock()
		c.svc = svc
		c.mu.Unlock()
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sheets.Service), nil
}

// observe drops the cached service when err suggests the connection or
// credentials went bad.
func (c *sheetsClient) observe(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	var urlErr *url.Error
	if (errors.As(err, &apiErr) && apiErr.Code == 401) || errors.As(err, &urlErr) {
		c.mu.Lock()
		c.svc = nil
		c.mu.Unlock()
	}
	return err
}

func (c *sheetsClient) Read(ctx context.Context, tab string) ([][]interface{}, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Spreadsheets.Values.Get(c.key, quoteTab(tab)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, c.observe(err)
	}
	return resp.Values, nil
}

func (c *sheetsClient) Write(ctx context.Context, cells []cellWrite) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, cell := range cells {
		data = append(data, &sheets.ValueRange{
			Range:  cellRange(cell.Tab, cell.Row, cell.Column),
			Values: [][]interface{}{{cell.Value}},
		})
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
	_, err = svc.Spreadsheets.Values.BatchUpdate(c.key, req).Context(ctx).Do()
	return c.observe(err)
}

func (c *sheetsClient) Append(ctx context.Context, tab string, row []interface{}) (int, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := svc.Spreadsheets.Values.Append(c.key, quoteTab(tab), &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, c.observe(err)
	}
	if resp.Updates == nil {
		return 0, errors.New("sheets: append returned no update range")
	}
	return parseUpdatedRow(resp.Updates.UpdatedRange)
}

func (c *sheetsClient) Ping(ctx context.Context) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	_, err = svc.Spreadsheets.Get(c.key).Fields("spreadsheetId").Context(ctx).Do()
	return c.observe(err)
}
