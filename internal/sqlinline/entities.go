package sqlinline

// QUpsertEntityStatus persists the latest status snapshot for an entity.
const QUpsertEntityStatus = `--sql 8c1f2a6e-3b7d-4f1a-9c2e-6d4b8a0e5f13
insert into entity_status (entity_id, status, status_message, image_count, featured_image_id, generated_url, updated_at)
values ($1, $2, $3, $4, $5, $6, now())
on conflict (entity_id) do update
set status = excluded.status,
    status_message = excluded.status_message,
    image_count = excluded.image_count,
    featured_image_id = excluded.featured_image_id,
    generated_url = excluded.generated_url,
    updated_at = now();
`

// QGetEntityStatus loads one persisted status snapshot.
const QGetEntityStatus = `--sql 2e9d7c41-85f0-4b6a-b1d3-7a2c9e8f0a64
select entity_id, status, status_message, image_count, featured_image_id, generated_url, updated_at
from entity_status
where entity_id = $1;
`

// QListEntityStatuses lists persisted status snapshots, most recent first.
const QListEntityStatuses = `--sql 5b3a1d9f-6c2e-4e8b-a7f4-0d1c3b5a9e27
select entity_id, status, status_message, image_count, featured_image_id, generated_url, updated_at
from entity_status
order by updated_at desc;
`
