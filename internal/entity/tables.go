package entity

import "Cradle-storage/internal/storage"

// Column names shared by several tables.
const (
	ColInstance      = "instance_id"
	ColBook          = "book"
	ColPage          = "page"
	ColName          = "name"
	ColFullName      = "full_name"
	ColDescription   = "description"
	ColCreated       = "created"
	ColStarted       = "started"
	ColEnded         = "ended"
	ColComment       = "comment"
	ColUpdated       = "updated"
	ColSessionAlias  = "session_alias"
	ColDirection     = "direction"
	ColFirstSequence = "first_sequence"
	ColLastSequence  = "last_sequence"
	ColFirstTime     = "first_message_time"
	ColLastTime      = "last_message_time"
	ColCount         = "message_count"
	ColCompressed    = "compressed"
	ColContent       = "content"
	ColContentSize   = "content_size"
	ColScope         = "scope"
	ColStartDate     = "start_date"
	ColStartTime     = "start_time"
	ColID            = "id"
	ColType          = "type"
	ColSuccess       = "success"
	ColRoot          = "root"
	ColParentID      = "parent_id"
	ColEventBatch    = "event_batch"
	ColEventCount    = "event_count"
	ColEndTimestamp  = "end_timestamp"
	ColMessageIDs    = "message_ids"
	ColChildID       = "child_id"
	ColEventID       = "event_id"
	ColMessageID     = "message_id"
	ColMaxDuration   = "max_duration"
	ColHealingStart  = "start_time_of_day"
	ColHealingEnd    = "end_time_of_day"
	ColRecoveryState = "recovery_state"
)

var Books = &storage.Table{
	Name: "books",
	Columns: []storage.Column{
		{Name: ColInstance, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColName, Type: storage.TypeText, Role: storage.Clustering},
		{Name: ColFullName, Type: storage.TypeText},
		{Name: ColDescription, Type: storage.TypeText},
		{Name: ColCreated, Type: storage.TypeTimestamp},
	},
}

var Pages = &storage.Table{
	Name: "pages",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColStarted, Type: storage.TypeTimestamp, Role: storage.Clustering},
		{Name: ColName, Type: storage.TypeText, Role: storage.Clustering},
		{Name: ColEnded, Type: storage.TypeTimestamp},
		{Name: ColComment, Type: storage.TypeText},
		{Name: ColUpdated, Type: storage.TypeTimestamp},
	},
}

var Messages = &storage.Table{
	Name: "messages",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColPage, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColSessionAlias, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColDirection, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColFirstSequence, Type: storage.TypeBigint, Role: storage.Clustering},
		{Name: ColLastSequence, Type: storage.TypeBigint},
		{Name: ColFirstTime, Type: storage.TypeTimestamp},
		{Name: ColLastTime, Type: storage.TypeTimestamp},
		{Name: ColCount, Type: storage.TypeInt},
		{Name: ColCompressed, Type: storage.TypeBool},
		{Name: ColContentSize, Type: storage.TypeInt},
		{Name: ColContent, Type: storage.TypeBlob},
	},
}

// Sessions lists the session aliases ever written to a book.
var Sessions = &storage.Table{
	Name: "sessions",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColSessionAlias, Type: storage.TypeText, Role: storage.Clustering},
	},
}

// PageSessions lists the streams written to each page.
var PageSessions = &storage.Table{
	Name: "page_sessions",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColPage, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColSessionAlias, Type: storage.TypeText, Role: storage.Clustering},
		{Name: ColDirection, Type: storage.TypeText, Role: storage.Clustering},
	},
}

var TestEvents = &storage.Table{
	Name: "test_events",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColPage, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColScope, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColStartDate, Type: storage.TypeDate, Role: storage.Clustering},
		{Name: ColStartTime, Type: storage.TypeTime, Role: storage.Clustering},
		{Name: ColID, Type: storage.TypeText, Role: storage.Clustering},
		{Name: ColName, Type: storage.TypeText},
		{Name: ColType, Type: storage.TypeText},
		{Name: ColSuccess, Type: storage.TypeBool},
		{Name: ColRoot, Type: storage.TypeBool},
		{Name: ColParentID, Type: storage.TypeText},
		{Name: ColEventBatch, Type: storage.TypeBool},
		{Name: ColEventCount, Type: storage.TypeInt},
		{Name: ColEndTimestamp, Type: storage.TypeTimestamp},
		{Name: ColCompressed, Type: storage.TypeBool},
		{Name: ColContentSize, Type: storage.TypeInt},
		{Name: ColContent, Type: storage.TypeBlob},
		{Name: ColMessageIDs, Type: storage.TypeTextSet},
	},
}

// Scopes lists the scopes ever written to a book.
var Scopes = &storage.Table{
	Name: "scopes",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColScope, Type: storage.TypeText, Role: storage.Clustering},
	},
}

// ParentLinks maps a parent event to the events and batches stored under it.
var ParentLinks = &storage.Table{
	Name: "parent_links",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColParentID, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColChildID, Type: storage.TypeText, Role: storage.Clustering},
	},
}

// EventMessages maps a test event to the messages it refers to.
var EventMessages = &storage.Table{
	Name: "event_messages",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColEventID, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColMessageID, Type: storage.TypeText, Role: storage.Clustering},
	},
}

// MessageEvents is the reverse of EventMessages.
var MessageEvents = &storage.Table{
	Name: "message_events",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColMessageID, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColEventID, Type: storage.TypeText, Role: storage.Clustering},
	},
}

// BatchDurations keeps the longest event batch per page and scope.
var BatchDurations = &storage.Table{
	Name: "event_batch_max_durations",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColPage, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColScope, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColMaxDuration, Type: storage.TypeBigint},
	},
}

var HealingIntervals = &storage.Table{
	Name: "healing_intervals",
	Columns: []storage.Column{
		{Name: ColBook, Type: storage.TypeText, Role: storage.Partition},
		{Name: ColID, Type: storage.TypeText, Role: storage.Clustering},
		{Name: ColHealingStart, Type: storage.TypeTime},
		{Name: ColHealingEnd, Type: storage.TypeTime},
		{Name: ColRecoveryState, Type: storage.TypeText},
	},
}

// All returns every table, in creation order.
func All() []*storage.Table {
	return []*storage.Table{
		Books, Pages, Messages, Sessions, PageSessions, TestEvents, Scopes,
		ParentLinks, EventMessages, MessageEvents, BatchDurations, HealingIntervals,
	}
}
