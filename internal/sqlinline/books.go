package sqlinline

const QSelectBookJob = `--sql 3d72f1d3-a3f6-4d61-a71b-75968dce1444
select
  id::text,
  user_id::text,
  status,
  settings,
  regeneration_credits,
  progress_stage,
  stage_progress,
  progress_message,
  coalesce(started_at, created_at),
  progress_data,
  book,
  created_at,
  updated_at
from book_jobs
where id = $1::uuid
limit 1;
`

const QListBookCharacters = `--sql 534c561f-eeea-4b2f-b097-60bf1c2fc70a
select
  id::text,
  name,
  entity_type,
  coalesce(gender, ''),
  coalesce(age, ''),
  coalesce(photo_url, ''),
  coalesce(ai_avatar_url, ''),
  coalesce(description, ''),
  coalesce(clothing_style, ''),
  coalesce(story_role, ''),
  role,
  coalesce(art_style, '')
from book_characters
where job_id = $1::uuid
order by position asc, created_at asc;
`

// QMergeBookProgress unions the patch into progress_data and moves the
// progress stage forward only. The status is changed only when the current
// status is one of $8. A failed job keeps its failure message until it
// leaves the failed status.
const QMergeBookProgress = `--sql 779cd7fc-678e-4cdf-92d8-e747e3c15409
update book_jobs
set
  progress_data = progress_data || $2::jsonb,
  progress_stage = case when $3::int > 0 and $3::int >= progress_stage_rank then $4::text else progress_stage end,
  stage_progress = case
    when $3::int > progress_stage_rank then $5::int
    when $3::int > 0 and $3::int = progress_stage_rank then greatest(stage_progress, $5::int)
    else stage_progress
  end,
  progress_message = case
    when $3::int >= progress_stage_rank and $6::text <> ''
      and (status <> 'failed' or ($7::text <> '' and status = any($8::text[]))) then $6::text
    else progress_message
  end,
  progress_stage_rank = greatest(progress_stage_rank, $3::int),
  status = case
    when $7::text <> '' and status = any($8::text[]) then $7::text
    else status
  end,
  book = coalesce($9::jsonb, book),
  started_at = coalesce(started_at, now()),
  updated_at = now()
where id = $1::uuid
returning status;
`

const QConsumeRegenerationCredit = `--sql 14d20b1a-45fa-4a40-9ce7-677e61361832
update book_jobs
set regeneration_credits = regeneration_credits - 1,
    updated_at = now()
where id = $1::uuid
  and regeneration_credits > 0
returning regeneration_credits;
`

const QRefundRegenerationCredit = `--sql e2ef9bf8-d963-4633-9dfb-a8c6542fd1e8
update book_jobs
set regeneration_credits = regeneration_credits + 1,
    updated_at = now()
where id = $1::uuid;
`

const QGrantRegenerationCredits = `--sql a76f69b6-e167-4b80-b1c9-2bd2596e7c3e
update book_jobs
set regeneration_credits = regeneration_credits + $2::int,
    updated_at = now()
where id = $1::uuid
returning regeneration_credits;
`

const QSelectBookJobStatus = `--sql e981fa30-c4ed-44d9-95d9-8b16aa834931
select status
from book_jobs
where id = $1::uuid
limit 1;
`

const QLockBookForUpdate = `--sql af5c9cd0-6993-4c9c-b558-c026a9a8800a
select book
from book_jobs
where id = $1::uuid
for update;
`

// QReplaceSceneIllustration stores the rewritten book and points the
// scene's accumulator entry at the same url and seed.
const QReplaceSceneIllustration = `--sql 93c6b9c9-2e82-4a0a-9343-b9e49568df08
update book_jobs
set book = $2::jsonb,
    progress_data = case
      when progress_data ? $3::text then jsonb_set(
        jsonb_set(progress_data, array[$3::text, 'url'], to_jsonb($4::text)),
        array[$3::text, 'seed'], to_jsonb($5::bigint))
      else progress_data
    end,
    updated_at = now()
where id = $1::uuid;
`

const QMarkBookJobFailed = `--sql 8053c916-6d9e-4dba-86c9-94f31f5ed9a5
update book_jobs
set status = 'failed',
    progress_message = $2::text,
    updated_at = now()
where id = $1::uuid
  and status in ('paid', 'generating');
`

const QInsertBookJob = `--sql 9ebb0e2f-0994-456b-be86-047bd75b809d
insert into book_jobs (id, user_id, status, settings, regeneration_credits, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::text, $4::jsonb, $5::int, now(), now());
`

const QInsertBookCharacter = `--sql cbda7c8f-70cd-42d9-8655-5f0902df1b4c
insert into book_characters (
  id, job_id, position, name, entity_type, gender, age, photo_url, ai_avatar_url,
  description, clothing_style, story_role, role, art_style, created_at
) values (
  $1::uuid, $2::uuid, $3::int, $4::text, $5::text, nullif($6::text, ''), nullif($7::text, ''),
  nullif($8::text, ''), nullif($9::text, ''), nullif($10::text, ''), nullif($11::text, ''),
  nullif($12::text, ''), $13::text, nullif($14::text, ''), now()
);
`
