package game

// updateCarriers runs the boarding hysteresis for every player. Counters
// debounce the WALKING/SWIMMING transition so a swimmer bobbing at the
// deck edge does not flap between states.
func (s *WorldState) updateCarriers(nowMs int64) {
	for _, p := range s.Players {
		if p.State == StateFalling {
			continue // landing is resolved by the fall timer
		}
		t := s.Trackers[p.ID]
		if t == nil {
			t = &CarrierTracker{InTicks: make(map[uint32]int)}
			s.Trackers[p.ID] = t
		}

		switch p.State {
		case StateSwimming:
			s.trackBoarding(p, t, nowMs)
		case StateWalking:
			s.trackDisembark(p, t, nowMs)
		}
	}
}

// trackBoarding counts containment ticks per ship and promotes the player
// to WALKING once N_IN is met and the switch cooldown has elapsed.
func (s *WorldState) trackBoarding(p *Player, t *CarrierTracker, nowMs int64) {
	for _, ship := range s.Ships {
		local := ship.ToLocal(p.Pos)
		if !ship.DeckContains(local) {
			delete(t.InTicks, ship.ID)
			continue
		}
		t.InTicks[ship.ID]++
		if t.InTicks[ship.ID] < CarrierInTicks || nowMs < t.CooldownUntil {
			continue
		}

		p.State = StateWalking
		p.CarrierShipID = ship.ID
		p.OnDeck = true
		p.LocalPos = ship.ToLocal(p.Pos)
		p.Vel = ship.Vel

		t.LastCarrierID = ship.ID
		t.OutTicks = 0
		for k := range t.InTicks {
			delete(t.InTicks, k)
		}
		t.CooldownUntil = nowMs + CarrierCooldownMs
		return
	}
}

// trackDisembark counts ticks spent outside the current carrier's deck and
// demotes the player to SWIMMING once N_OUT is met.
func (s *WorldState) trackDisembark(p *Player, t *CarrierTracker, nowMs int64) {
	// Containment here uses the same inflated bounds as the walking clamp
	// so a player pressed against the rail is not counted as overboard.
	ship := s.ShipByID(p.CarrierShipID)
	if ship != nil {
		local := ship.ToLocal(p.Pos)
		slack := DeckClampSlack * p.Radius
		if local.X >= DeckMinX-slack && local.X <= DeckMaxX+slack &&
			local.Y >= DeckMinY-slack && local.Y <= DeckMaxY+slack {
			t.OutTicks = 0
			return
		}
	}
	t.OutTicks++
	if t.OutTicks < CarrierOutTicks {
		return
	}

	s.dismount(p)
	p.State = StateSwimming
	p.CarrierShipID = 0
	p.OnDeck = false

	t.OutTicks = 0
	for k := range t.InTicks {
		delete(t.InTicks, k)
	}
	t.CooldownUntil = nowMs + CarrierCooldownMs
}
