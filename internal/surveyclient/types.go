package surveyclient

type Option struct {
	ID       int64  `json:"id"`
	Text     string `json:"text"`
	RawScore int    `json:"raw_score"`
}

type Question struct {
	ID      int64    `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

type OptionInput struct {
	ID       *int64 `json:"id,omitempty"`
	Text     string `json:"text"`
	RawScore int    `json:"raw_score"`
}

type QuestionInput struct {
	Text    string        `json:"text"`
	Options []OptionInput `json:"options"`
}

type SubmissionUser struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

type SubmissionResponse struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
	RawScore   int    `json:"raw_score"`
}

type Submission struct {
	User      SubmissionUser       `json:"user"`
	Responses []SubmissionResponse `json:"responses"`
}

type SubmitAck struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
}

type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

type UserResponse struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	QuestionID   int64  `json:"question_id"`
	QuestionText string `json:"question_text"`
	Answer       string `json:"answer"`
	RawScore     int    `json:"raw_score"`
}

type Subscale struct {
	ID          int64   `json:"id,omitempty"`
	Name        string  `json:"name"`
	Method      string  `json:"method"`
	QuestionIDs []int64 `json:"question_ids"`
}

type NormalizationRow struct {
	Age             int     `json:"age"`
	Sex             string  `json:"sex"`
	RawScore        int     `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows    int              `json:"total_rows"`
	ImportedRows int              `json:"imported_rows"`
	Errors       []ImportRowError `json:"errors"`
}
