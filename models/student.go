package models

// Student represents a row in the "students" table and the record returned
// by every registry operation. Fields map 1-to-1 with columns.
type Student struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DateBirth     string    `json:"dateBirth"`
	DateAdmission string    `json:"dateAdmission"`
	Course        string    `json:"course"`
	CourseType    string    `json:"courseType"`
	Location      string    `json:"location"`
	Parent        string    `json:"parent"`
	ParentNumber  uint64    `json:"parentNumber"`
	CreatedAt     uint64    `json:"createdAt"`
	UpdatedAt     NullStamp `json:"updatedAt"`
}

// CreateStudentParams holds the caller-supplied fields of a new student.
// The system-derived fields (id, parent, createdAt, updatedAt) have no place
// here, so incoming JSON carrying them is silently ignored.
type CreateStudentParams struct {
	Name          string `json:"name"`
	DateBirth     string `json:"dateBirth"`
	DateAdmission string `json:"dateAdmission"`
	Course        string `json:"course"`
	CourseType    string `json:"courseType"`
	Location      string `json:"location"`
	ParentNumber  uint64 `json:"parentNumber"`
}

// UpdateStudentParams holds fields that can be changed on an existing
// student. All fields are pointers so callers only set what needs changing;
// a full payload overrides every caller-suppliable field.
type UpdateStudentParams struct {
	Name          *string `json:"name,omitempty"`
	DateBirth     *string `json:"dateBirth,omitempty"`
	DateAdmission *string `json:"dateAdmission,omitempty"`
	Course        *string `json:"course,omitempty"`
	CourseType    *string `json:"courseType,omitempty"`
	Location      *string `json:"location,omitempty"`
	ParentNumber  *uint64 `json:"parentNumber,omitempty"`
}

// Apply merges the non-nil fields of p over s.
func (p UpdateStudentParams) Apply(s *Student) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.DateBirth != nil {
		s.DateBirth = *p.DateBirth
	}
	if p.DateAdmission != nil {
		s.DateAdmission = *p.DateAdmission
	}
	if p.Course != nil {
		s.Course = *p.Course
	}
	if p.CourseType != nil {
		s.CourseType = *p.CourseType
	}
	if p.Location != nil {
		s.Location = *p.Location
	}
	if p.ParentNumber != nil {
		s.ParentNumber = *p.ParentNumber
	}
}

// FullUpdate turns a create payload into an update that overrides every
// caller-suppliable field.
func FullUpdate(p CreateStudentParams) UpdateStudentParams {
	return UpdateStudentParams{
		Name:          &p.Name,
		DateBirth:     &p.DateBirth,
		DateAdmission: &p.DateAdmission,
		Course:        &p.Course,
		CourseType:    &p.CourseType,
		Location:      &p.Location,
		ParentNumber:  &p.ParentNumber,
	}
}
