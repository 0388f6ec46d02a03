package domain

// Category is a fixed room grouping key. Grouped renderings must preserve
// CategoryOrder; a room belongs to exactly one category.
type Category string

const (
	CategoryMonitored     Category = "monitored"
	CategoryTO            Category = "TO"
	CategoryClientDesk    Category = "clientDesk"
	CategoryProjects      Category = "projects"
	CategoryTeams         Category = "teams"
	CategoryMeetings      Category = "meetings"
	CategoryDevelopment   Category = "development"
	CategoryAnnouncements Category = "announcements"
	CategoryMyChat        Category = "myChat"
	CategoryOthers        Category = "others"
)

// CategoryOrder is the display order for room categories.
var CategoryOrder = []Category{
	CategoryMonitored,
	CategoryTO,
	CategoryClientDesk,
	CategoryProjects,
	CategoryTeams,
	CategoryMeetings,
	CategoryDevelopment,
	CategoryAnnouncements,
	CategoryMyChat,
	CategoryOthers,
}

// Room is a chat room as reported by the backend.
type Room struct {
	ID          string `json:"room_id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // "group" | "direct" | "my"
	MemberCount int    `json:"member_count"`
	Sticky      bool   `json:"sticky"`
	UnreadCount int    `json:"unread_num"`
	LastUpdate  int64  `json:"last_update_time"` // unix seconds
}

// Member is a room roster entry, used to resolve display names to account
// ids when encoding mentions.
type Member struct {
	AccountID int64  `json:"account_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}
