package room_repo

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/entity"
	"maunium.net/go/mautrix/id"
)

type RoomRepo struct {
	mu      sync.RWMutex
	rooms   map[id.RoomID]entity.Room
	direct  map[id.UserID]id.RoomID
	members map[id.RoomID]map[id.UserID]entity.Member
	version uint64
}

func NewRoomRepo() RoomRepoContract {
	return &RoomRepo{
		rooms:   make(map[id.RoomID]entity.Room),
		direct:  make(map[id.UserID]id.RoomID),
		members: make(map[id.RoomID]map[id.UserID]entity.Member),
	}
}

func (r *RoomRepo) Upsert(room entity.Room) (entity.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(room)
}

func (r *RoomRepo) putLocked(room entity.Room) (entity.Room, bool) {
	prev, existed := r.rooms[room.ID]
	if existed && prev == room {
		return prev, false
	}

	if existed && prev.DirectUserID != "" && prev.DirectUserID != room.DirectUserID {
		if r.direct[prev.DirectUserID] == room.ID {
			delete(r.direct, prev.DirectUserID)
		}
	}
	if room.IsDirect() && room.DirectUserID != "" {
		if other, taken := r.direct[room.DirectUserID]; taken && other != room.ID {
			log.Warn().
				Str("roomID", string(room.ID)).
				Str("existingRoomID", string(other)).
				Str("directUserID", string(room.DirectUserID)).
				Msg("room repo: second direct room for user, keeping the first")
		} else {
			r.direct[room.DirectUserID] = room.ID
		}
	}

	r.rooms[room.ID] = room
	r.version++
	return room, true
}

func (r *RoomRepo) Get(roomID id.RoomID) (entity.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

func (r *RoomRepo) List() []entity.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entity.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *RoomRepo) FindDirect(userID id.UserID) (entity.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.direct[userID]
	if !ok {
		return entity.Room{}, false
	}
	room, ok := r.rooms[roomID]
	return room, ok
}

func (r *RoomRepo) UpdateSelf(roomID id.RoomID, fn func(room *entity.Room)) (entity.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return entity.Room{}, false
	}
	fn(&room)
	room.ID = roomID
	stored, _ := r.putLocked(room)
	return stored, true
}

func (r *RoomRepo) Remove(roomID id.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if room.DirectUserID != "" && r.direct[room.DirectUserID] == roomID {
		delete(r.direct, room.DirectUserID)
	}
	delete(r.rooms, roomID)
	delete(r.members, roomID)
	r.version++
}

func (r *RoomRepo) UpsertMember(member entity.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser, ok := r.members[member.RoomID]
	if !ok {
		byUser = make(map[id.UserID]entity.Member)
		r.members[member.RoomID] = byUser
	}
	if prev, ok := byUser[member.UserID]; ok && prev == member {
		return
	}
	byUser[member.UserID] = member
	r.version++
}

func (r *RoomRepo) ReplaceMembers(roomID id.RoomID, members []entity.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser := make(map[id.UserID]entity.Member, len(members))
	for _, m := range members {
		m.RoomID = roomID
		byUser[m.UserID] = m
	}
	r.members[roomID] = byUser
	r.version++
}

func (r *RoomRepo) Member(roomID id.RoomID, userID id.UserID) (entity.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[roomID][userID]
	return m, ok
}

func (r *RoomRepo) Members(roomID id.RoomID) []entity.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entity.Member, 0, len(r.members[roomID]))
	for _, m := range r.members[roomID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *RoomRepo) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
